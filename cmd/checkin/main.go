package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"checkin/internal/app"
	"checkin/internal/archive"
	"checkin/internal/checkin"
	"checkin/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Export", "Import").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "checkin",
	Short:        "Back up and restore check-in visits",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["data_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data Dir: %s\n", cfg.DataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Data Dir:    %s\n", cfg.DataDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Photos:      %s\n", cfg.Assets.Dir)
		fmt.Printf("Output Dir:  %s\n", cfg.Archive.OutputDir)
		fmt.Printf("Batch:       %d rows, refresh every %d failures\n", cfg.Import.BatchSize, cfg.Import.RefreshEvery)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the whole store to a backup archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		toVault, _ := cmd.Flags().GetBool("vault")

		a, err := newApp("Export")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Export(cmd.Context(), toVault)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Exported %d visit(s) and %d photo(s) to %s (%s)\n",
			res.VisitCount, res.PhotoCount, res.Path, humanize.Bytes(uint64(res.Size)))
		if len(res.MissingPhotos) > 0 {
			fmt.Printf("Skipped %d missing photo(s)\n", len(res.MissingPhotos))
		}
		if res.Vault != "" {
			fmt.Printf("Shipped to vault %s\n", res.Vault)
		}
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import [FILE]",
	Short: "Restore a backup archive into the store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromVault, _ := cmd.Flags().GetString("from-vault")
		archiveName, _ := cmd.Flags().GetString("archive")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if (len(args) == 1) == (fromVault != "") {
			return fmt.Errorf("give either FILE or --from-vault")
		}

		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		opts := checkin.RestoreOptions{}
		if verbose {
			opts.OnState = func(s checkin.RestoreState) { fmt.Printf("... %s\n", s) }
		}

		var res *checkin.RestoreResult
		if fromVault != "" {
			res, err = a.ImportFromVault(cmd.Context(), fromVault, archiveName, opts)
		} else {
			res, err = a.Import(cmd.Context(), args[0], opts)
		}
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Imported %d visit(s), %d failed; restored %d photo(s)\n",
			res.VisitsImported, res.VisitsFailed, res.PhotosRestored)
		if n := res.TaxaSkipped(); n > 0 {
			fmt.Printf("Skipped %d taxonomy row(s) without a name\n", n)
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Work with backup archives",
}

// manifestView is the printable form of a manifest.
type manifestView struct {
	Version     string `yaml:"version"`
	AppVersion  string `yaml:"appVersion"`
	BackupDate  string `yaml:"backupDate"`
	VisitCount  int    `yaml:"visitCount"`
	LabelCount  int    `yaml:"labelCount"`
	GroupCount  int    `yaml:"groupCount"`
	MemberCount int    `yaml:"memberCount"`
	PhotoCount  int    `yaml:"photoCount"`
}

func newManifestView(m *archive.Manifest) manifestView {
	return manifestView{
		Version:     m.Version,
		AppVersion:  m.AppVersion,
		BackupDate:  m.BackupDate.UTC().Format(time.RFC3339),
		VisitCount:  m.VisitCount,
		LabelCount:  m.LabelCount,
		GroupCount:  m.GroupCount,
		MemberCount: m.MemberCount,
		PhotoCount:  m.PhotoCount,
	}
}

var archiveInspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Validate an archive and show its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		a, err := newApp("InspectArchive")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.InspectArchive(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		view := newManifestView(m)
		if asYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(view)
		}
		fmt.Printf("Version:  %s (app %s)\n", view.Version, view.AppVersion)
		fmt.Printf("Created:  %s (%s)\n", view.BackupDate, humanize.Time(m.BackupDate.Time))
		fmt.Printf("Visits:   %d\n", view.VisitCount)
		fmt.Printf("Taxonomy: %d label(s), %d group(s), %d member(s)\n", view.LabelCount, view.GroupCount, view.MemberCount)
		fmt.Printf("Photos:   %d\n", view.PhotoCount)
		return nil
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Work with vaults",
}

var vaultListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List archives stored in a vault",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListVault")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		vaultName, infos, err := a.ListVaultArchives(cmd.Context(), name)
		if err != nil {
			return err
		}

		if len(infos) == 0 {
			fmt.Printf("Vault %s holds no archives.\n", vaultName)
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%-45s  %10s  %s\n", info.Name, humanize.Bytes(uint64(info.Size)),
				info.ModifiedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// visits command
var visitsCmd = &cobra.Command{
	Use:   "visits",
	Short: "Inspect and maintain visits",
}

var visitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visits, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("ListVisits")
		if err != nil {
			return err
		}
		defer a.Close()

		visits, err := a.Visits(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(visits) == 0 {
			fmt.Println("No visits found.")
			return nil
		}
		for _, r := range visits {
			fmt.Printf("%s  %s  %-30s  %d photo(s)\n",
				r.Visit.ID,
				r.Visit.Timestamp.Local().Format("2006-01-02 15:04"),
				r.Details.TitleOrEmpty(),
				len(r.Details.PhotoPaths),
			)
		}
		return nil
	},
}

func filterFromFlags(cmd *cobra.Command) (checkin.Filter, error) {
	var f checkin.Filter
	f.Text, _ = cmd.Flags().GetString("text")
	f.LabelID, _ = cmd.Flags().GetString("label")
	f.GroupID, _ = cmd.Flags().GetString("group")
	f.MemberID, _ = cmd.Flags().GetString("member")
	f.WithPhoto, _ = cmd.Flags().GetBool("with-photos")

	for flag, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v, _ := cmd.Flags().GetString(flag)
		if v == "" {
			continue
		}
		t, err := parseDay(v)
		if err != nil {
			return f, fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = t
	}
	return f, nil
}

// parseDay accepts an RFC 3339 instant or a local calendar day.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}

var visitsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one visit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ShowVisit")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Visit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("%w: %s", checkin.ErrVisitNotFound, args[0])
		}

		v, d := r.Visit, r.Details
		fmt.Printf("ID:        %s\n", v.ID)
		fmt.Printf("Time:      %s\n", v.Timestamp.Format(time.RFC3339))
		fmt.Printf("Location:  %.6f, %.6f\n", v.Latitude, v.Longitude)
		printOptional("Title", d.Title)
		printOptional("Facility", d.FacilityName)
		printOptional("Address", d.ResolvedAddress)
		printOptional("Comment", d.Comment)
		printOptional("Group", d.GroupID)
		if len(d.LabelIDs) > 0 {
			fmt.Printf("Labels:    %s\n", strings.Join(d.LabelIDs, ", "))
		}
		if len(d.MemberIDs) > 0 {
			fmt.Printf("Members:   %s\n", strings.Join(d.MemberIDs, ", "))
		}
		for i, p := range d.PhotoPaths {
			fmt.Printf("Photo %d:   %s\n", i+1, p)
		}
		fmt.Printf("Integrity: %s %s\n", v.Integrity.Algorithm, v.Integrity.PayloadHashHex)
		return nil
	},
}

func printOptional(label string, v *string) {
	if v != nil {
		fmt.Printf("%-10s %s\n", label+":", *v)
	}
}

var visitsEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Edit a visit's title, comment or photos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var edit app.VisitEdit
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			edit.Title = &v
		}
		if cmd.Flags().Changed("comment") {
			v, _ := cmd.Flags().GetString("comment")
			edit.Comment = &v
		}
		edit.AddPhotos, _ = cmd.Flags().GetStringSlice("add-photo")
		edit.RemovePhotos, _ = cmd.Flags().GetStringSlice("remove-photo")

		a, err := newApp("EditVisit")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.EditVisit(cmd.Context(), args[0], edit); err != nil {
			return err
		}
		fmt.Printf("Updated visit %s\n", args[0])
		return nil
	},
}

var visitsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a visit and its photos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeleteVisit")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteVisit(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted visit %s\n", args[0])
		return nil
	},
}

var visitsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every visit",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to purge without --yes when stdin is not a terminal")
			}
			if !confirm("Delete every visit? Taxonomy and photo files are kept.") {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp("PurgeVisits")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.PurgeVisits(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d visit(s)\n", n)
		return nil
	},
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// taxonomy command
var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect labels, groups and members",
}

var taxonomyListCmd = &cobra.Command{
	Use:   "list KIND",
	Short: "List labels, groups or members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := checkin.ParseTaxonKind(args[0])
		if !ok {
			return fmt.Errorf("unknown kind %q: want label, group or member", args[0])
		}

		a, err := newApp("ListTaxa")
		if err != nil {
			return err
		}
		defer a.Close()

		taxa, err := a.Taxa(cmd.Context(), kind)
		if err != nil {
			return err
		}
		if len(taxa) == 0 {
			fmt.Printf("No %ss.\n", kind)
			return nil
		}
		for _, t := range taxa {
			fmt.Printf("%s  %s\n", t.ID, t.Name)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if st, err := a.SchemaStatus(); err == nil {
			fmt.Printf("Schema: %s\n\n", st)
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveInspectCmd)
	archiveInspectCmd.Flags().Bool("yaml", false, "Print the manifest as YAML")

	// vault subcommands
	vaultCmd.AddCommand(vaultListCmd)

	// visits subcommands
	visitsCmd.AddCommand(visitsListCmd)
	visitsListCmd.Flags().String("text", "", "Match title or resolved address")
	visitsListCmd.Flags().String("label", "", "Only visits with this label id")
	visitsListCmd.Flags().String("group", "", "Only visits in this group id")
	visitsListCmd.Flags().String("member", "", "Only visits with this member id")
	visitsListCmd.Flags().String("since", "", "Only visits at or after this day (YYYY-MM-DD or RFC 3339)")
	visitsListCmd.Flags().String("until", "", "Only visits before this day (YYYY-MM-DD or RFC 3339)")
	visitsListCmd.Flags().Bool("with-photos", false, "Only visits with at least one photo")
	visitsCmd.AddCommand(visitsShowCmd)
	visitsCmd.AddCommand(visitsEditCmd)
	visitsEditCmd.Flags().String("title", "", "New title (empty clears it)")
	visitsEditCmd.Flags().String("comment", "", "New comment (empty clears it)")
	visitsEditCmd.Flags().StringSlice("add-photo", nil, "Attach a local image file")
	visitsEditCmd.Flags().StringSlice("remove-photo", nil, "Detach a stored photo by name")
	visitsCmd.AddCommand(visitsDeleteCmd)
	visitsCmd.AddCommand(visitsPurgeCmd)
	visitsPurgeCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	// taxonomy subcommands
	taxonomyCmd.AddCommand(taxonomyListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().Bool("vault", false, "Also upload the archive to the first configured vault")
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("from-vault", "", "Fetch the archive from this vault")
	importCmd.Flags().String("archive", "", "Archive name in the vault (default: newest)")
	importCmd.Flags().BoolP("verbose", "v", false, "Print each restore stage")
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(visitsCmd)
	rootCmd.AddCommand(taxonomyCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
