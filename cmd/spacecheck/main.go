// Command spacecheck validates a directory of space definition files. For
// each <id>.json it checks:
//   - JSON structure and required fields
//   - that the declared id is well formed and matches the file name
//   - positive dimensions no larger than space.MaxDimension
//   - that no two files declare the same id
//
// Valid files also get a short summary of their spawn and walkable areas.
//
// "spacecheck new" writes a fresh space file into the directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/metaverse-presence/metaverse/space"
)

// CheckResult captures the outcome of validating a single file.
// If Valid is true, Notes contains informational messages; otherwise it
// accumulates the problems that were found.
type CheckResult struct {
	File  string
	ID    string
	Valid bool
	Notes []string
}

// checkSpaceFile loads and validates one space file.
func checkSpaceFile(path string) CheckResult {
	result := CheckResult{File: filepath.Base(path), Valid: true}
	stem := strings.TrimSuffix(result.File, ".json")

	data, err := os.ReadFile(path)
	if err != nil {
		result.Valid = false
		result.Notes = append(result.Notes, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	// Decode once by hand so a missing id is reported rather than defaulted.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		result.Valid = false
		result.Notes = append(result.Notes, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}
	for _, field := range []string{"name", "width", "height"} {
		if _, ok := raw[field]; !ok {
			result.Valid = false
			result.Notes = append(result.Notes, fmt.Sprintf("Missing field %q", field))
		}
	}

	s, err := space.LoadFile(path)
	if err != nil {
		result.Valid = false
		result.Notes = append(result.Notes, err.Error())
		return result
	}
	result.ID = s.ID

	if s.ID != stem {
		result.Valid = false
		result.Notes = append(result.Notes, fmt.Sprintf("Declared id %q does not match file name %q", s.ID, stem))
	}
	if !result.Valid {
		return result
	}

	result.Notes = append(result.Notes,
		fmt.Sprintf("✓ %s (%dx%d)", displayName(s), s.Width, s.Height),
		fmt.Sprintf("✓ spawn cells: %d", s.Width*s.Height),
		fmt.Sprintf("✓ walkable cells: %d", (s.Width+1)*(s.Height+1)),
	)
	return result
}

func displayName(s space.Space) string {
	if s.Name == "" {
		return s.ID
	}
	return s.Name
}

// checkDir validates every *.json file in dir. Duplicate ids invalidate
// every file after the first that declares them.
func checkDir(dir string) ([]CheckResult, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("finding space files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no space files in %s", dir)
	}
	sort.Strings(files)

	seen := make(map[string]string)
	results := make([]CheckResult, 0, len(files))
	for _, file := range files {
		result := checkSpaceFile(file)
		if result.ID != "" {
			if first, dup := seen[result.ID]; dup {
				result.Valid = false
				result.Notes = append(result.Notes, fmt.Sprintf("Duplicate id %q (first declared in %s)", result.ID, first))
			} else {
				seen[result.ID] = result.File
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// report prints results and reports whether all were valid.
func report(w io.Writer, results []CheckResult) bool {
	allValid := true
	for _, result := range results {
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			for _, note := range result.Notes {
				fmt.Fprintln(w, "  "+note)
			}
			continue
		}

		allValid = false
		fmt.Fprintln(w, "❌ INVALID")
		for _, note := range result.Notes {
			fmt.Fprintln(w, "  ❌ "+note)
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(w, "✅ All spaces are valid!")
	} else {
		fmt.Fprintln(w, "❌ Some spaces have errors")
	}
	return allValid
}

var errInvalidSpaces = errors.New("invalid space files found")

var errSpaceExists = errors.New("space already exists")

// createSpace writes s into dir. An existing space is only replaced when
// force is set.
func createSpace(ctx context.Context, dir string, s space.Space, force bool) error {
	catalog, err := space.NewFileCatalog(dir)
	if err != nil {
		return err
	}
	if !force {
		_, err := catalog.LookupSpace(ctx, s.ID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", errSpaceExists, s.ID)
		case !errors.Is(err, space.ErrSpaceNotFound):
			return fmt.Errorf("%w: %s (%v)", errSpaceExists, s.ID, err)
		}
	}
	return catalog.Save(s)
}

func newSpaceCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Write a new space file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Required: true, Usage: "space id, also the file name"},
			&cli.StringFlag{Name: "name", Usage: "display name"},
			&cli.StringFlag{Name: "description", Usage: "free-form description"},
			&cli.IntFlag{Name: "width", Required: true, Usage: "grid width"},
			&cli.IntFlag{Name: "height", Required: true, Usage: "grid height"},
			&cli.BoolFlag{Name: "force", Usage: "replace an existing space"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s := space.Space{
				ID:          cmd.String("id"),
				Name:        cmd.String("name"),
				Description: cmd.String("description"),
				Width:       cmd.Int("width"),
				Height:      cmd.Int("height"),
			}
			dir := cmd.String("dir")
			if err := createSpace(ctx, dir, s, cmd.Bool("force")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", filepath.Join(dir, s.ID+".json"))
			return nil
		},
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "spacecheck",
		Usage:     "Validate space definition files",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: "spaces", Usage: "directory of <id>.json files", Sources: cli.EnvVars("SPACES_DIR")},
		},
		Commands: []*cli.Command{newSpaceCommand()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.String("dir")
			if cmd.Args().Present() {
				dir = cmd.Args().First()
			}

			results, err := checkDir(dir)
			if err != nil {
				return err
			}
			if !report(cmd.Root().Writer, results) {
				return errInvalidSpaces
			}
			return nil
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "spacecheck: %v\n", err)
		os.Exit(1)
	}
}
