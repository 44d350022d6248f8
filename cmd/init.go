package cmd

import (
	"fmt"
	"os"
	"text/template"

	"github.com/spf13/cobra"
)

var (
	initRepo  string
	initUnits []string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init [project]",
	Short: "Write a starter slipway.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRepo, "repo", "", "git repository URL to deploy from")
	initCmd.Flags().StringSliceVar(&initUnits, "units", []string{"api", "db"}, "unit names to scaffold")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing manifest")
}

const manifestTemplate = `project: {{.Project}}
compose_file: docker-compose.yaml
source:
  repo: {{.Repo}}
  work_dir: .slipway/src
  checkout_retries: 2
units:
{{- range $i, $u := .Units}}
  - name: {{$u}}
    context: {{$u}}
    dockerfile: Dockerfile
    image: {{$.Project}}/{{$u}}
    health_url: http://localhost:{{port $i}}/health
    test_command: ["python", "-m", "pytest", "-q"]
{{- end}}
health:
  per_unit_timeout: 60s
  poll_interval: 2s
  overall_budget: 120s
store:
  path: .slipway/slipway.db
server:
  addr: ":8530"
`

type initData struct {
	Project string
	Repo    string
	Units   []string
}

func runInit(cmd *cobra.Command, args []string) error {
	project := "my-project"
	if len(args) > 0 {
		project = args[0]
	}
	repo := initRepo
	if repo == "" {
		repo = fmt.Sprintf("https://github.com/example/%s.git", project)
	}

	cfgPath, err := resolveConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	}

	tmpl := template.Must(template.New("manifest").Funcs(template.FuncMap{
		"port": func(i int) int { return 8000 + i },
	}).Parse(manifestTemplate))

	f, err := os.Create(cfgPath)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, initData{Project: project, Repo: repo, Units: initUnits}); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	fmt.Printf("wrote %s\n", cfgPath)
	fmt.Println("edit the source.repo, image, and health_url fields, then run: slipway validate")
	return nil
}
