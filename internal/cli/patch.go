package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ralt/opatch/internal/models"
	"github.com/ralt/opatch/internal/patcher"
	"github.com/ralt/opatch/internal/scanner"
)

type runFunc func(ctx context.Context, opts *models.PatchOptions) error

// NewPatchCmd creates the patch command
func NewPatchCmd() *cobra.Command {
	return newPatchCmd(runPatch)
}

func newPatchCmd(run runFunc) *cobra.Command {
	opts := models.PatchOptions{OnError: models.PolicyAbort}
	var (
		keystore   []string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "patch [flags] <apk or directory>...",
		Short: "Patch application packages",
		Long: `Patches every given package, and every .apk file found under the given
directories, writing <name>-<version>-opatched.apk files to the output
directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := applyConfig(cmd.Flags(), configPath); err != nil {
					return err
				}
			}
			opts.Inputs = args
			if err := validateOptions(&opts, keystore); err != nil {
				return err
			}

			logrus.Debugf("Configuration: %+v", redacted(opts))
			return run(cmd.Context(), &opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML file with default flag values")

	// Input/Output flags
	f.StringVarP(&opts.OutputDir, "output", "o", "opatched", "Output directory")
	f.BoolVarP(&opts.Force, "force", "f", false, "Overwrite existing output files")
	f.StringVar(&opts.PayloadPath, "payload", "payload", "Loader payload directory or tarball")

	// Patch behaviour
	f.BoolVarP(&opts.Debuggable, "debuggable", "d", false, "Set android:debuggable in the patched manifest")
	f.IntVarP(&opts.SigBypassLevel, "sigbypasslv", "l", 0, "Signature bypass level: 0 off, 1 package manager, 2 package manager and openat")
	f.BoolVar(&opts.UseManager, "manager", false, "Load modules through the manager app instead of embedding them")
	f.BoolVarP(&opts.OverrideVersionCode, "allowdown", "r", false, "Set versionCode to 1 so the package can replace newer versions")
	f.StringSliceVarP(&opts.Modules, "embed", "m", nil, "Module packages to embed")
	f.BoolVar(&opts.InjectProvider, "provider", false, "Inject the file provider")
	f.BoolVar(&opts.OutputLog, "output-log", false, "Let the loader write its log to the application's storage")

	// APK signing flags
	f.StringSliceVarP(&keystore, "keystore", "k", nil, "PKCS#12 keystore: path,store password,alias,key password")
	f.StringVar(&opts.PEMPath, "pem", "", "PEM file holding the signing key and its certificate chain")
	f.StringVar(&opts.KeyPassword, "pem-passphrase", "", "Passphrase of an encrypted --pem key")

	// GPG provenance flags
	f.StringVar(&opts.PGPKeyPath, "pgp-key", "", "Path to a GPG private key for detached output signatures")
	f.StringVar(&opts.PGPPassphrase, "pgp-passphrase", "", "GPG key passphrase")

	// Batch flags
	f.IntVar(&opts.Jobs, "jobs", 1, "Packages patched in parallel")
	f.Var(&opts.OnError, "on-error", "What a failed package does to the rest of the batch: abort or continue")

	return cmd
}

// applyConfig sets every flag named in the YAML file at path that was not
// given on the command line.
func applyConfig(flags *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &models.PatchError{Type: models.ErrInvalidConfig, Package: path, Err: err}
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return &models.PatchError{Type: models.ErrInvalidConfig, Package: path, Err: err}
	}

	for name, v := range values {
		fl := flags.Lookup(name)
		if fl == nil || name == "config" {
			return &models.PatchError{Type: models.ErrInvalidConfig, Package: path, Entry: name, Err: fmt.Errorf("unknown option")}
		}
		if fl.Changed {
			continue
		}
		if err := fl.Value.Set(configString(v)); err != nil {
			return &models.PatchError{Type: models.ErrInvalidConfig, Package: path, Entry: name, Err: err}
		}
	}
	return nil
}

func configString(v any) string {
	if list, ok := v.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func validateOptions(opts *models.PatchOptions, keystore []string) error {
	invalid := func(format string, args ...any) error {
		return &models.PatchError{Type: models.ErrInvalidConfig, Err: fmt.Errorf(format, args...)}
	}

	if opts.OutputDir == "" {
		return invalid("output directory is required")
	}
	if opts.SigBypassLevel < 0 || opts.SigBypassLevel > 2 {
		return invalid("signature bypass level %d not in 0..2", opts.SigBypassLevel)
	}
	if opts.UseManager && len(opts.Modules) > 0 {
		return invalid("--manager loads modules at runtime and cannot be combined with --embed")
	}
	if opts.Jobs < 1 {
		return invalid("--jobs must be at least 1")
	}

	if len(keystore) > 0 {
		if len(keystore) != 4 {
			return invalid("--keystore takes 4 values (path, store password, alias, key password), got %d", len(keystore))
		}
		if opts.PEMPath != "" {
			return invalid("--keystore and --pem are mutually exclusive")
		}
		opts.KeystorePath = keystore[0]
		opts.KeystorePassword = keystore[1]
		opts.KeyAlias = keystore[2]
		opts.KeyPassword = keystore[3]
	}
	return nil
}

// redacted hides secrets before options are logged
func redacted(opts models.PatchOptions) models.PatchOptions {
	for _, s := range []*string{&opts.KeystorePassword, &opts.KeyPassword, &opts.PGPPassphrase} {
		if *s != "" {
			*s = "***"
		}
	}
	return opts
}

func runPatch(ctx context.Context, opts *models.PatchOptions) error {
	// Step 1: Resolve inputs
	sc := scanner.NewFileSystemScanner(opts.OutputDir)
	packages, err := sc.Resolve(ctx, opts.Inputs)
	if err != nil {
		return err
	}
	inputs := make([]string, len(packages))
	for i, p := range packages {
		inputs[i] = p.Path
	}

	// Step 2: Load payloads, credentials and modules
	p, err := patcher.New(opts, models.DefaultLayout())
	if err != nil {
		return err
	}
	defer p.Close()

	// Step 3: Patch
	batch := patcher.NewBatch(opts.Jobs, opts.OnError)
	results, err := batch.PatchAll(ctx, p, inputs)
	for _, res := range results {
		if res != nil {
			logrus.Infof("Output: %s", res.Output)
		}
	}
	if err != nil {
		return err
	}

	logrus.Info("Patching completed successfully!")
	return nil
}
