// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Catalog identifiers. Values are stable and shown to users as "KITE-<n>".
const (
	ScriptsDirUnreadableId Id = iota + 1
	ScriptNotFoundId
	ScriptAlreadyLoadedId
	ScriptNotLoadedId
	OperationInProgressId
	CompilationFailedId
	ImportCycleId
	DependencyUnresolvedId
	CacheUnavailableId
	ConfigLoadFailedId
	ConsoleStartFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is Markdown source rendered by glamour.
	MarkdownMsg string

	// HttpLink is an external reference shown under "See also".
	HttpLink string

	// Issue is a catalog entry with Markdown remediation guidance.
	Issue struct {
		id       Id
		title    string
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

var (
	render = glamour.Render

	issues = map[Id]*Issue{}
)

func register(i *Issue) *Issue {
	issues[i.id] = i
	return i
}

func (i *Issue) Id() Id { return i.id }

func (i *Issue) Title() string { return i.title }

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the entry with the given glamour style ("dark", "light",
// "notty" or a path to a JSON style).
func (i *Issue) Render(style string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		md += "\n\n## See also\n"
		for _, link := range i.docLinks {
			md += "- <" + string(link) + ">\n"
		}
	}
	return render(md, style)
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

var (
	_ = register(&Issue{
		id:    ScriptsDirUnreadableId,
		title: "Scripts directory unreadable",
		mdMsg: `
# The scripts directory cannot be read

kite creates the scripts directory on first start, but the path exists and
could not be listed.

## Things you can try
- Check permissions of the directory printed above
- Point kite somewhere else:
~~~
$ kite serve --scripts-dir ./scripts
~~~`,
	})

	_ = register(&Issue{
		id:    ScriptNotFoundId,
		title: "Script not found",
		mdMsg: `
# No such script

A script is either a file named ` + "`<name>.kite.sh`" + ` directly in the scripts
directory, or a directory ` + "`<name>/`" + ` containing ` + "`main.kite.sh`" + `.

## Things you can try
~~~
$ kite list
~~~`,
	})

	_ = register(&Issue{
		id:    ScriptAlreadyLoadedId,
		title: "Script already loaded",
		mdMsg: `
# The script is already loaded

Use ` + "`reload`" + ` to pick up changes of a loaded script.`,
	})

	_ = register(&Issue{
		id:    ScriptNotLoadedId,
		title: "Script not loaded",
		mdMsg: `
# The script is not loaded

Only loaded scripts can be unloaded or reloaded. ` + "`kite list`" + ` marks loaded
scripts with a dot.`,
	})

	_ = register(&Issue{
		id:    OperationInProgressId,
		title: "Operation in progress",
		mdMsg: `
# Another operation on this script is still running

Requests for a script that is compiling, loading or unloading are rejected
instead of queued. Wait for the running operation to finish and try again.`,
	})

	_ = register(&Issue{
		id:    CompilationFailedId,
		title: "Compilation failed",
		mdMsg: `
# The script failed to compile

Every error diagnostic is printed above with its file and line.

## Things you can try
- Fix the reported syntax errors
- Check the ` + "`# @`" + ` directives at the top of the script`,
	})

	_ = register(&Issue{
		id:    ImportCycleId,
		title: "Import cycle",
		mdMsg: `
# Imports form a cycle

A file listed with ` + "`# @import`" + ` imports, directly or indirectly, the file
that imported it. Move the shared code into a third file imported by both.`,
	})

	_ = register(&Issue{
		id:    DependencyUnresolvedId,
		title: "Dependency unresolved",
		mdMsg: `
# A dependency could not be resolved

Resolution failures do not stop a script from loading; the dependency is
simply left off the classpath.

## Things you can try
- Check the coordinate (` + "`group:artifact:version`" + `)
- Add the repository hosting it:
~~~sh
# @repository https://repo.example.com/maven2
~~~`,
		docLinks: []HttpLink{"https://maven.apache.org/guides/introduction/introduction-to-dependency-mechanism.html"},
	})

	_ = register(&Issue{
		id:    CacheUnavailableId,
		title: "Cache unavailable",
		mdMsg: `
# The compilation cache is unavailable

Scripts are still compiled, but every load recompiles from source.

## Things you can try
~~~
$ kite cache prune
~~~`,
	})

	_ = register(&Issue{
		id:    ConfigLoadFailedId,
		title: "Configuration invalid",
		mdMsg: `
# The configuration file could not be loaded

## Things you can try
~~~
$ kite config path
$ kite config show
~~~
- Regenerate a default file with ` + "`kite config init --force`",
		docLinks: []HttpLink{"https://cuelang.org/docs/"},
	})

	_ = register(&Issue{
		id:    ConsoleStartFailedId,
		title: "Console failed to start",
		mdMsg: `
# The management console could not start

## Things you can try
- Pick another port: ` + "`kite serve --console-port 2323`" + `
- Disable the console: ` + "`kite serve --no-console`",
	})
)
