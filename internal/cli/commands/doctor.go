package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapml/internal/cli/config"
	"github.com/leapstack-labs/leapml/internal/cli/output"
	"github.com/leapstack-labs/leapml/internal/model"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/pipeline"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run a project health check",
		Long: `Check that a LeapML project is ready to run and serve.

The doctor command verifies:
- Configuration (config file, dataset source)
- Pipeline definition (stage graph is valid)
- Storage (backend reachable, raw data present)
- Run history (state database opens and migrates)
- Model (a trained artifact is available for serving)

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run health check
  leapml doctor

  # Output as JSON
  leapml doctor --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	ProjectRoot     string        `json:"project_root"`
	ConfigFile      string        `json:"config_file,omitempty"`
	HealthChecks    []HealthCheck `json:"health_checks"`
	Score           int           `json:"score"`
	Recommendations []string      `json:"recommendations"`
	IssueCount      int           `json:"issue_count"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Group   string   `json:"group"`
	Status  string   `json:"status"` // "pass", "warn", "error"
	Details []string `json:"details,omitempty"`
}

// Health check statuses.
const (
	checkPass  = "pass"
	checkWarn  = "warn"
	checkError = "error"
)

func runDoctor(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	out := &DoctorOutput{
		ProjectRoot:  cmdCtx.Cfg.ProjectRoot,
		ConfigFile:   config.GetConfigFileUsed(),
		HealthChecks: cmdCtx.healthChecks(cmd.Context()),
	}
	for _, check := range out.HealthChecks {
		if check.Status != checkPass {
			out.IssueCount++
		}
	}
	out.Score = calculateHealthScore(out.HealthChecks)
	out.Recommendations = generateRecommendations(out.HealthChecks)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		return renderDoctorMarkdown(r, out)
	default:
		return renderDoctorText(r, out)
	}
}

// healthChecks runs every check in display order.
func (c *CommandContext) healthChecks(ctx context.Context) []HealthCheck {
	cfg := c.Cfg
	checks := []HealthCheck{
		c.checkConfigFile(),
		c.checkDatasetSource(),
		c.checkPipeline(),
	}

	objects, err := objectstore.Open(ctx, cfg.Storage, c.Logger)
	if err != nil {
		checks = append(checks,
			newCheck("ST01", "Storage reachable", "storage", checkError, err.Error()),
			newCheck("ST02", "Raw data uploaded", "storage", checkWarn, "skipped: storage unavailable"),
		)
	} else {
		defer func() { _ = objects.Close() }()
		checks = append(checks, checkStorage(ctx, objects, cfg.Upload.Prefix)...)
	}

	checks = append(checks, c.checkState(ctx)...)
	checks = append(checks, c.checkModel(ctx, objects))
	return checks
}

func newCheck(id, name, group, status string, details ...string) HealthCheck {
	return HealthCheck{ID: id, Name: name, Group: group, Status: status, Details: details}
}

func (c *CommandContext) checkConfigFile() HealthCheck {
	if path := config.GetConfigFileUsed(); path != "" {
		return newCheck("CF01", "Config file", "config", checkPass)
	}
	return newCheck("CF01", "Config file", "config", checkWarn, "no leapml.yaml found, using defaults")
}

func (c *CommandContext) checkDatasetSource() HealthCheck {
	up := c.Cfg.Upload
	if up.DatasetURI != "" {
		return newCheck("CF02", "Dataset source", "config", checkPass)
	}
	if _, err := os.Stat(up.LocalDataFile); err == nil {
		return newCheck("CF02", "Dataset source", "config", checkPass)
	}
	return newCheck("CF02", "Dataset source", "config", checkWarn,
		fmt.Sprintf("upload.dataset_uri is empty and %s does not exist", up.LocalDataFile))
}

func (c *CommandContext) checkPipeline() HealthCheck {
	def, err := c.loadDefinition()
	if err == nil {
		err = def.Validate([]string{
			pipeline.StageUpload, pipeline.StageIngest, pipeline.StagePreprocess, pipeline.StageTrain,
		})
	}
	if err != nil {
		return newCheck("PL01", "Pipeline definition", "pipeline", checkError, strings.Split(err.Error(), "\n")...)
	}
	return newCheck("PL01", "Pipeline definition", "pipeline", checkPass)
}

func checkStorage(ctx context.Context, objects objectstore.Store, rawPrefix string) []HealthCheck {
	keys, err := objects.List(ctx, rawPrefix)
	if err != nil {
		return []HealthCheck{
			newCheck("ST01", "Storage reachable", "storage", checkError, err.Error()),
			newCheck("ST02", "Raw data uploaded", "storage", checkWarn, "skipped: storage unavailable"),
		}
	}
	reachable := newCheck("ST01", "Storage reachable", "storage", checkPass)
	if len(keys) == 0 {
		return []HealthCheck{reachable, newCheck("ST02", "Raw data uploaded", "storage", checkWarn,
			"no objects under "+objects.URI(rawPrefix))}
	}
	return []HealthCheck{reachable, newCheck("ST02", "Raw data uploaded", "storage", checkPass)}
}

func (c *CommandContext) checkState(ctx context.Context) []HealthCheck {
	history, err := c.openState()
	if err != nil {
		return []HealthCheck{
			newCheck("RS01", "Run history", "state", checkError, err.Error()),
		}
	}
	defer func() { _ = history.Close() }()

	checks := []HealthCheck{newCheck("RS01", "Run history", "state", checkPass)}

	name := pipeline.DefaultName
	if def, err := c.loadDefinition(); err == nil {
		name = def.Name
	}
	run, err := history.GetLatestRun(ctx, name)
	switch {
	case err != nil:
		checks = append(checks, newCheck("RS02", "Last run", "state", checkError, err.Error()))
	case run == nil:
		checks = append(checks, newCheck("RS02", "Last run", "state", checkWarn, "pipeline has never run"))
	case run.Error != "":
		checks = append(checks, newCheck("RS02", "Last run", "state", checkWarn,
			fmt.Sprintf("run %s %s: %s", run.ID, run.Status, run.Error)))
	default:
		checks = append(checks, newCheck("RS02", "Last run", "state", checkPass))
	}
	return checks
}

// checkModel looks for a servable artifact, first in storage and then on disk.
func (c *CommandContext) checkModel(ctx context.Context, objects objectstore.Store) HealthCheck {
	serve := c.Cfg.Serve
	var problems []string

	if objects != nil && serve.ModelKey != "" {
		err := validateStoredModel(ctx, objects, serve.ModelKey)
		if err == nil {
			return newCheck("MD01", "Trained model", "model", checkPass)
		}
		problems = append(problems, fmt.Sprintf("%s: %v", objects.URI(serve.ModelKey), err))
	}
	for _, path := range []string{serve.ModelPath, c.Cfg.Train.ModelPath} {
		if path == "" {
			continue
		}
		artifact, err := model.Load(path)
		if err == nil {
			err = artifact.Validate()
		}
		if err == nil {
			return newCheck("MD01", "Trained model", "model", checkPass)
		}
		problems = append(problems, fmt.Sprintf("%s: %v", path, err))
	}
	return newCheck("MD01", "Trained model", "model", checkWarn, problems...)
}

func validateStoredModel(ctx context.Context, objects objectstore.Store, key string) error {
	rc, err := objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotExist) {
			return errors.New("not found")
		}
		return err
	}
	defer func() { _ = rc.Close() }()

	artifact, err := model.Decode(rc)
	if err != nil {
		return err
	}
	return artifact.Validate()
}

// calculateHealthScore computes a health score from 0-100.
// Warnings cost 10 points and errors 25.
func calculateHealthScore(checks []HealthCheck) int {
	score := 100
	for _, check := range checks {
		switch check.Status {
		case checkError:
			score -= 25
		case checkWarn:
			score -= 10
		}
	}
	return max(score, 0)
}

// generateRecommendations creates actionable recommendations based on findings.
func generateRecommendations(checks []HealthCheck) []string {
	recommendations := []string{}
	for _, check := range checks {
		if check.Status == checkPass {
			continue
		}
		if rec := getRecommendation(check.ID); rec != "" {
			recommendations = append(recommendations, rec)
		}
	}
	return recommendations
}

// getRecommendation returns a recommendation for a specific check.
func getRecommendation(id string) string {
	switch id {
	case "CF01":
		return "Run 'leapml init' to create leapml.yaml"
	case "CF02":
		return "Set upload.dataset_uri or DATASET_URI to the stock price archive"
	case "PL01":
		return "Fix pipeline.star so every stage is known and the graph has no cycles"
	case "ST01":
		return "Check storage.backend, storage.bucket and your cloud credentials"
	case "ST02":
		return "Run 'leapml stage upload' to fetch the raw data"
	case "RS01":
		return "Check that state_path is writable"
	case "RS02":
		return "Run 'leapml run' and inspect failures with 'leapml runs show'"
	case "MD01":
		return "Run 'leapml stage train' to publish a model"
	default:
		return ""
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) error {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("LeapML Project Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	r.Printf("   Project: %s\n", out.ProjectRoot)
	if out.ConfigFile != "" {
		r.Printf("   Config:  %s\n", out.ConfigFile)
	}
	r.Println("")

	r.Println(styles.Header2.Render("Health Checks"))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.Success.Render("✓")
		switch check.Status {
		case checkWarn:
			icon = styles.Warning.Render("!")
		case checkError:
			icon = styles.Error.Render("✗")
		}
		r.Printf("   %s %s: %s\n", icon, check.ID, check.Name)

		for i, detail := range check.Details {
			if i >= 3 {
				r.Println(styles.Muted.Render(fmt.Sprintf("       ... and %d more", len(check.Details)-3)))
				break
			}
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("   Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println(styles.Header2.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("   %d. %s\n", i+1, rec)
		}
		r.Println("")
	}

	return nil
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) error {
	r.Println("# LeapML Project Health Report")
	r.Println("")
	r.Println(output.FormatKeyValue("Project", out.ProjectRoot))
	if out.ConfigFile != "" {
		r.Println(output.FormatKeyValue("Config", out.ConfigFile))
	}
	r.Println("")

	r.Println("## Health Checks")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("### " + titleCaser.String(currentGroup))
			r.Println("")
		}

		r.Printf("- **[%s]** %s: %s\n", strings.ToUpper(check.Status), check.ID, check.Name)
		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	r.Println("## Health Score")
	r.Println("")
	r.Printf("**%d/100**\n", out.Score)
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println("## Recommendations")
		r.Println("")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
		r.Println("")
	}

	return nil
}
