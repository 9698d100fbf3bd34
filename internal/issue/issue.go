// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the Markdown body of a catalog entry.
	MarkdownMsg string

	// HttpLink is a documentation link appended to a rendered entry.
	HttpLink string

	// Issue is a help page shown after a hard failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

const (
	MissingCommandId Id = iota + 1
	ProjectNotFoundId
	ConfigLoadFailedId
	OutdatedMetadataId
	MetadataSourceId
	ProcessTerminationId
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the entry as styled terminal output. stylePath is a glamour
// style name ("dark", "light", "notty") or a path to a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 {
		extraMd += "\n\n## See also:\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	missingCommandIssue = &Issue{
		id: MissingCommandId,
		mdMsg: `
# No command to bind!

stackbind runs a command of your choice with the environment and credentials
of the site deployed from the current directory.

## Examples:
~~~
$ stackbind bind next dev
$ stackbind bind -- vitest run --watch
$ stackbind bind --script node scripts/seed.mjs
~~~`,
	}

	projectNotFoundIssue = &Issue{
		id: ProjectNotFoundId,
		mdMsg: `
# No stackbind project found!

stackbind looks for a ` + "`stackbind.cue`" + ` file in the current directory
and each of its parents. Its directory is the project root that site paths
are resolved against.

## Things you can try:
- Run the command from inside your project
- Create a minimal project file:
~~~cue
app:    "my-app"
stage:  "dev"
region: "us-east-1"
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load stackbind.cue!

The project file has a syntax error or a value that does not match the
schema.

## Things you can try:
- Check the error message above for the specific line/column
- Validate the file with the cue command-line tool
- Run with verbose mode for more details:
~~~
$ stackbind --verbose bind npm run dev
~~~`,
	}

	outdatedMetadataIssue = &Issue{
		id: OutdatedMetadataId,
		mdMsg: `
# Deployment metadata is outdated!

The metadata record for this site was written by an older deploy and is
missing required fields. The session continues in script mode, using only the
values declared in stackbind.cue.

## Things you can try:
- Redeploy the stage so fresh metadata is published
- Pass ` + "`--script`" + ` to silence this check when you only need local values`,
	}

	metadataSourceIssue = &Issue{
		id: MetadataSourceId,
		mdMsg: `
# Metadata source is not usable!

stackbind could not set up the configured deployment metadata source.

## Things you can try:
- For the S3 source, set ` + "`metadata.bucket`" + ` in stackbind.cue
- For the directory source, check that ` + "`metadata.dir`" + ` is readable
- Make sure your local cloud credentials are valid`,
	}

	processTerminationIssue = &Issue{
		id: ProcessTerminationId,
		mdMsg: `
# The previous process could not be stopped!

A restart was aborted because the old process tree is still alive. Starting a
second copy would collide on its ports.

## Things you can try:
- Find and stop the leftover process manually (` + "`lsof -i :3000`" + `)
- Restart the bind session`,
	}

	issues = map[Id]*Issue{
		missingCommandIssue.Id():     missingCommandIssue,
		projectNotFoundIssue.Id():    projectNotFoundIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		outdatedMetadataIssue.Id():   outdatedMetadataIssue,
		metadataSourceIssue.Id():     metadataSourceIssue,
		processTerminationIssue.Id(): processTerminationIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	ids := make([]Id, 0, len(issues))
	for id := range issues {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, issues[id])
	}
	return out
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
