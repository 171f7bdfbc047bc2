package verify

import (
	"os"
	"path/filepath"
	"strings"
)

// Command is a check to run. An empty Name means no command was detected
// for the kind.
type Command struct {
	Kind string
	Name string
	Args []string
}

func (c Command) String() string {
	if c.Name == "" {
		return ""
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type marker struct {
	files []string
	test  []string
	lint  []string
	build []string
}

// markers are tried in order; the first whose file exists wins per kind.
var markers = []marker{
	{
		files: []string{"package.json"},
		test:  []string{"npm", "test"},
		lint:  []string{"npm", "run", "lint"},
		build: []string{"npm", "run", "build"},
	},
	{
		files: []string{"pytest.ini"},
		test:  []string{"pytest", "-v"},
	},
	{
		files: []string{"pyproject.toml"},
		test:  []string{"pytest", "-v"},
		lint:  []string{"ruff", "check", "."},
	},
	{
		files: []string{"go.mod"},
		test:  []string{"go", "test", "./..."},
		lint:  []string{"golangci-lint", "run"},
		build: []string{"go", "build", "./..."},
	},
	{
		files: []string{"Cargo.toml"},
		test:  []string{"cargo", "test"},
		build: []string{"cargo", "build"},
	},
}

// Detect returns the test, lint and build commands for the project in
// dir, always in that order.
func Detect(dir string) []Command {
	var found []marker
	for _, m := range markers {
		for _, f := range m.files {
			if fileExists(filepath.Join(dir, f)) {
				found = append(found, m)
				break
			}
		}
	}

	pick := func(kind string, get func(marker) []string) Command {
		for _, m := range found {
			if argv := get(m); len(argv) > 0 {
				return Command{Kind: kind, Name: argv[0], Args: argv[1:]}
			}
		}
		return Command{Kind: kind}
	}
	return []Command{
		pick(KindTest, func(m marker) []string { return m.test }),
		pick(KindLint, func(m marker) []string { return m.lint }),
		pick(KindBuild, func(m marker) []string { return m.build }),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
