package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/atomikpanda/pkgdeliver/internal/actions"
	"github.com/atomikpanda/pkgdeliver/internal/audit"
	"github.com/atomikpanda/pkgdeliver/internal/color"
	"github.com/atomikpanda/pkgdeliver/internal/config"
	"github.com/atomikpanda/pkgdeliver/internal/contentstore"
	"github.com/atomikpanda/pkgdeliver/internal/image"
	"github.com/atomikpanda/pkgdeliver/internal/index"
	"github.com/atomikpanda/pkgdeliver/internal/lock"
	"github.com/atomikpanda/pkgdeliver/internal/logging"
	"github.com/atomikpanda/pkgdeliver/internal/manifest"
	"github.com/atomikpanda/pkgdeliver/internal/metrics"
	"github.com/atomikpanda/pkgdeliver/internal/plan"
	"github.com/atomikpanda/pkgdeliver/internal/platform"
	"github.com/atomikpanda/pkgdeliver/internal/sysv"
)

var (
	configFile string
	rootDir    string
	logLevel   string
	logFormat  string
)

var errVerifyFailed = errors.New("verification failed")

func main() {
	color.Init(os.Stdout)
	if err := buildRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "pkgdeliver",
		Short: "Deliver package manifests into an image",
		Long: `pkgdeliver moves an image from one package version to another by
installing, updating and removing the actions listed in package manifests.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to pkgdeliver.yaml")
	root.PersistentFlags().StringVarP(&rootDir, "root", "R", "", "image root (overrides image.root)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")

	root.AddCommand(
		applyCmd(),
		verifyCmd(),
		validateCmd(),
		indexCmd(),
		searchCmd(),
		storeCmd(),
		shardCmd(),
		salvageCmd(),
		importSysvCmd(),
		logCmd(),
	)
	return root
}

// loadConfig reads --config when given and applies the global flag
// overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", configFile, err)
		}
		cfg = c
	} else {
		cfg = config.Default(rootDir)
	}
	if rootDir != "" {
		cfg.Image.Root = rootDir
	}
	if cfg.Image.Root == "" {
		return nil, errors.New("no image root: pass --root or --config")
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is the configured image and logger shared by one command.
type session struct {
	cfg    *config.Config
	img    *image.Image
	log    zerolog.Logger
	closer io.Closer
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	img := cfg.NewImage(cfg.Admin(platform.IsAdmin))
	img.Log = log
	return &session{cfg: cfg, img: img, log: log, closer: closer}, nil
}

func (s *session) Close() { s.closer.Close() }

func (s *session) openIndex(ctx context.Context) (*index.Index, error) {
	path := s.cfg.IndexPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return index.Open(ctx, path)
}

// fmriOf names a manifest by its pkg.fmri attribute, falling back to the
// file name.
func fmriOf(acts []actions.Action, path string) string {
	if f := manifest.FMRI(acts); f != "" {
		return f
	}
	base := filepath.Base(path)
	return "pkg:/" + strings.TrimSuffix(base, filepath.Ext(base))
}

func repeatStr(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

// pad left-justifies s in a column of width n before styling is applied.
func pad(s string, n int) string {
	return s + repeatStr(" ", n-len(s))
}

// --- apply -------------------------------------------------------------------

// confirm asks before a plan removes actions. Tests replace it.
var confirm = func(title string) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false, errors.New("plan removes actions; rerun with --yes to confirm")
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Apply").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func applyCmd() *cobra.Command {
	var (
		destPath   string
		originPath string
		destFMRI   string
		originFMRI string
		onError    string
		yes        bool
		dryRun     bool
		preflight  bool
	)

	cmd := &cobra.Command{
		Use:   "apply --dest <manifest>",
		Short: "Move the image to the destination manifest",
		Long: `Computes the difference between the origin manifest (the version currently
delivered, if any) and the destination manifest, then removes, installs and
updates actions until the image matches the destination.`,
		Example: `  pkgdeliver apply -R /mnt/img --dest web-2.0.p5m
  pkgdeliver apply -R /mnt/img --origin web-1.0.p5m --dest web-2.0.p5m --yes
  pkgdeliver apply -c pkgdeliver.yaml --dest web-2.0.p5m --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			dest, err := manifest.ParseFile(destPath)
			if err != nil {
				return err
			}
			var origin []actions.Action
			if originPath != "" {
				if origin, err = manifest.ParseFile(originPath); err != nil {
					return err
				}
				if originFMRI == "" {
					originFMRI = fmriOf(origin, originPath)
				}
			}
			if destFMRI == "" {
				destFMRI = fmriOf(dest, destPath)
			}

			mode := s.cfg.OnError
			if cmd.Flags().Changed("on-error") {
				mode = onError
			}
			errMode, err := plan.ParseErrorMode(mode)
			if err != nil {
				return err
			}
			prom := metrics.NewProm(s.cfg.Metrics.Namespace)
			eng := &plan.Engine{
				OnError:   errMode,
				Preflight: preflight || s.cfg.Preflight,
				Log:       s.log,
				Metrics:   prom,
				Journal:   audit.Open(s.cfg.JournalPath()),
			}

			p := plan.New(s.img, originFMRI, destFMRI)
			d, err := eng.Prepare(p, origin, dest)
			if err != nil {
				return err
			}
			printDiff(out, p, d)
			if dryRun || d.Len() == 0 {
				return nil
			}
			if _, _, rem := d.Counts(); rem > 0 && !yes {
				ok, err := confirm(fmt.Sprintf("Remove %d actions from %s?", rem, s.cfg.Root()))
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("apply cancelled")
				}
			}

			lk, err := lock.Acquire(ctx, lock.Path(s.cfg.Root()))
			if err != nil {
				return fmt.Errorf("lock image: %w", err)
			}
			defer lk.Release()

			res, applyErr := eng.Apply(ctx, p, d)
			if err := recordIndex(ctx, s, p, res); err != nil {
				s.log.Warn().Err(err).Msg("index not updated")
			}
			if path := s.cfg.Metrics.Textfile; path != "" {
				if err := prom.WriteTextfile(platform.UnderRoot(s.cfg.Root(), path)); err != nil {
					s.log.Warn().Err(err).Msg("metrics textfile not written")
				}
			}

			fmt.Fprintf(out, "\n%d installed, %d updated, %d removed", res.Installed, res.Updated, res.Removed)
			if n := len(res.Failures); n > 0 {
				fmt.Fprintf(out, ", %s", color.Status(false, fmt.Sprintf("%d failed", n)))
			}
			fmt.Fprintf(out, " in %s\n", res.Duration.Round(time.Millisecond))
			return applyErr
		},
	}

	cmd.Flags().StringVar(&destPath, "dest", "", "destination manifest")
	cmd.Flags().StringVar(&originPath, "origin", "", "origin manifest (omit for a fresh install)")
	cmd.Flags().StringVar(&destFMRI, "dest-fmri", "", "destination FMRI (default: pkg.fmri of the manifest)")
	cmd.Flags().StringVar(&originFMRI, "origin-fmri", "", "origin FMRI (default: pkg.fmri of the manifest)")
	cmd.Flags().StringVar(&onError, "on-error", "abort", "abort or continue after a failed step")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply removals without asking")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without applying it")
	cmd.Flags().BoolVar(&preflight, "preflight", false, "validate every destination action before applying")
	_ = cmd.MarkFlagRequired("dest")
	return cmd
}

func printDiff(w io.Writer, p *plan.PackagePlan, d *plan.Diff) {
	from := p.Origin
	if from == "" {
		from = "(none)"
	}
	fmt.Fprintf(w, "%s %s -> %s\n", color.Bold("plan"), from, p.Destination)
	for _, s := range d.Steps() {
		op := s.Op.String()
		fmt.Fprintf(w, "  %s %s\n", color.Op(op)+repeatStr(" ", 7-len(op)), s.Action().Describe())
	}
	ins, upd, rem := d.Counts()
	fmt.Fprintf(w, "%d to install, %d to update, %d to remove\n", ins, upd, rem)
}

// recordIndex stores the tuples of the applied actions under the
// destination FMRI and drops those of a differently named origin.
func recordIndex(ctx context.Context, s *session, p *plan.PackagePlan, res *plan.Result) error {
	ix, err := s.openIndex(ctx)
	if err != nil {
		return err
	}
	defer ix.Close()
	if p.Origin != "" && p.Origin != p.Destination {
		if err := ix.Replace(ctx, p.Origin, nil); err != nil {
			return err
		}
	}
	return ix.Replace(ctx, p.Destination, res.Indices)
}

// --- verify ------------------------------------------------------------------

func verifyCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "verify <manifest>",
		Short: "Compare the image with a manifest without modifying anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			acts, err := manifest.ParseFile(args[0])
			if err != nil {
				return err
			}
			failed := 0
			for _, a := range acts {
				r := a.Verify(s.img)
				if !r.OK() {
					failed++
				}
				if r.OK() && quiet {
					continue
				}
				status := "ok"
				if !r.OK() {
					status = "FAIL"
				}
				fmt.Fprintf(out, "%s  %s\n", color.Status(r.OK(), pad(status, 4)), a.Describe())
				for _, e := range r.Errors {
					fmt.Fprintf(out, "      %s %s\n", color.Red("error:"), e)
				}
				for _, w := range r.Warnings {
					fmt.Fprintf(out, "      %s %s\n", color.Yellow("warning:"), w)
				}
				for _, i := range r.Info {
					fmt.Fprintf(out, "      %s\n", color.Dim(i))
				}
			}
			if failed > 0 {
				fmt.Fprintf(out, "\n%d of %d actions failed verification\n", failed, len(acts))
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print failures")
	return cmd
}

// --- validate ----------------------------------------------------------------

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Check manifests for malformed and conflicting actions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				acts, err := manifest.ParseFile(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmri := fmriOf(acts, path)
				problems := actions.ValidateAll(fmri, acts)
				if _, err := plan.Compute(nil, acts); err != nil {
					problems = append(problems, err)
				}
				if len(problems) == 0 {
					fmt.Fprintf(out, "%s  %s (%d actions)\n", color.Status(true, "ok  "), path, len(acts))
					continue
				}
				fmt.Fprintf(out, "%s  %s\n", color.Status(false, "FAIL"), path)
				for _, p := range problems {
					fmt.Fprintf(out, "      %s\n", p)
				}
				errs = append(errs, fmt.Errorf("%s: %d problems", path, len(problems)))
			}
			return errors.Join(errs...)
		},
	}
}

// --- index / search ----------------------------------------------------------

func indexCmd() *cobra.Command {
	var fmri string

	cmd := &cobra.Command{
		Use:   "index <manifest>",
		Short: "Rebuild the search index entries of a delivered manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			acts, err := manifest.ParseFile(args[0])
			if err != nil {
				return err
			}
			if fmri == "" {
				fmri = fmriOf(acts, args[0])
			}
			groups := make([]plan.IndexGroup, 0, len(acts))
			tuples := 0
			for _, a := range acts {
				g := plan.IndexGroup{Action: a.Name(), Key: a.Key(), Tuples: a.GenerateIndices()}
				tuples += len(g.Tuples)
				groups = append(groups, g)
			}

			ix, err := s.openIndex(ctx)
			if err != nil {
				return err
			}
			defer ix.Close()
			if err := ix.Replace(ctx, fmri, groups); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d tuples for %s\n", tuples, fmri)
			return nil
		},
	}
	cmd.Flags().StringVar(&fmri, "fmri", "", "package FMRI (default: pkg.fmri of the manifest)")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <[domain:[field:]]token>",
		Short: "Find delivered actions by index token",
		Example: `  pkgdeliver search -R /mnt/img libc.so
  pkgdeliver search -R /mnt/img directory:path:/usr/lib
  pkgdeliver search -R /mnt/img depend:require:pkg:/libc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ix, err := s.openIndex(ctx)
			if err != nil {
				return err
			}
			defer ix.Close()
			hits, err := ix.Lookup(ctx, index.ParseQuery(args[0]))
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(out, "(no matches)")
				return nil
			}
			fmt.Fprintln(out, color.Bold(fmt.Sprintf("%-20s  %-10s  %-30s  %s", "INDEX", "ACTION", "VALUE", "PACKAGE")))
			for _, h := range hits {
				fmt.Fprintf(out, "%-20s  %-10s  %-30s  %s\n", h.Domain+":"+h.Field, h.Action, h.Token, h.FMRI)
			}
			return nil
		},
	}
}

// --- store / shard -----------------------------------------------------------

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Stage and locate content in the image's content store",
	}

	var encrypt bool
	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Stage a file and print its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if !encrypt {
				d, err := s.img.Store.PutFile(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), d)
				return nil
			}
			if !s.img.AgeKey.Configured() {
				return errors.New("--encrypt requires age.identity or age.passphrase in the config")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			pr, pw := io.Pipe()
			go func() { pw.CloseWithError(s.img.AgeKey.Encrypt(pw, f)) }()
			d, err := s.img.Store.Put(pr)
			pr.CloseWithError(err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (deliver with encrypted=true)\n", d)
			return nil
		},
	}
	put.Flags().BoolVar(&encrypt, "encrypt", false, "stage the file as age ciphertext")

	path := &cobra.Command{
		Use:   "path <hash>",
		Short: "Print where the content for a hash is staged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.img.Store.Path(args[0])
			if err != nil {
				return err
			}
			if !s.img.Store.Has(args[0]) {
				return fmt.Errorf("%s: %w", args[0], contentstore.ErrNotFound)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd.AddCommand(put, path)
	return cmd
}

func shardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shard <hash>",
		Short: "Print the store-relative location of a hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := contentstore.Encoded(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), contentstore.Shard(enc))
			return nil
		},
	}
}

// --- salvage -----------------------------------------------------------------

func salvageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "salvage",
		Short: "Inspect directories moved aside during removal",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List salvaged directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.img.Salvage.Records()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "(nothing salvaged)")
				return nil
			}
			fmt.Fprintln(out, color.Bold(fmt.Sprintf("%-20s  %-30s  %s", "TIME", "ORIGINAL", "SALVAGED TO")))
			fmt.Fprintln(out, color.Dim(repeatStr("-", 90)))
			for _, r := range recs {
				fmt.Fprintf(out, "%-20s  %-30s  %s\n",
					r.SalvagedAt.Local().Format(time.DateTime), "/"+r.OriginalPath, r.Destination)
			}
			return nil
		},
	})
	return cmd
}

// --- import-sysv -------------------------------------------------------------

func importSysvCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "import-sysv <package-dir>",
		Short: "Convert a directory-format SysV package into a manifest",
		Long: `Reads pkginfo, pkgmap and install/depend from a directory-format SysV
package, stages its file content into the content store and writes the
equivalent manifest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			pkg, err := sysv.Open(args[0])
			if err != nil {
				return err
			}
			acts, err := pkg.Actions(s.img.Store)
			if err != nil {
				return err
			}
			id, err := actions.New("set", actions.A("name", "pkg.fmri", "value", pkg.FMRI()))
			if err != nil {
				return err
			}
			acts = append([]actions.Action{id}, acts...)

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := manifest.Write(w, acts); err != nil {
				return err
			}
			s.log.Info().Str("fmri", pkg.FMRI()).Int("actions", len(acts)).Msg("imported sysv package")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the manifest to a file instead of stdout")
	return cmd
}

// --- log ---------------------------------------------------------------------

func logCmd() *cobra.Command {
	var filter string
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the apply journal",
		Example: `  pkgdeliver log -R /mnt/img
  pkgdeliver log -R /mnt/img --filter pkg:/web@2.0
  pkgdeliver log -R /mnt/img --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			j := audit.Open(cfg.JournalPath())
			entries, err := j.Read(filter, limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "(no journal entries)")
				return nil
			}

			fmt.Fprintln(out, color.Bold(fmt.Sprintf("%-20s  %-7s  %-8s  %-8s  %s",
				"TIME", "OP", "ACTION", "OUTCOME", "KEY")))
			fmt.Fprintln(out, color.Dim(repeatStr("-", 90)))
			for _, e := range entries {
				ts := e.Time.Local().Format(time.DateTime)
				outcome := color.Status(e.Outcome == "success", pad(e.Outcome, 8))
				line := fmt.Sprintf("%-20s  %-7s  %-8s  %s  %s", ts, e.Op, e.Action, outcome, e.Key)
				if e.Error != "" {
					line += "  " + color.Dim(e.Error)
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "\njournal: %s\n", j.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only show entries for a plan ID or FMRI")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to show")
	return cmd
}
