package patcher

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ralt/opatch/internal/axml"
	"github.com/ralt/opatch/internal/container"
	"github.com/ralt/opatch/internal/manifest"
	"github.com/ralt/opatch/internal/metadata"
	"github.com/ralt/opatch/internal/models"
	"github.com/ralt/opatch/internal/payload"
	"github.com/ralt/opatch/internal/signer"
	"github.com/ralt/opatch/internal/utils"
)

// Result describes one patched package
type Result struct {
	Input       string
	Output      string
	PackageName string
	// CacheKey is the SHA-256 of the nested original, used by the runtime
	// to name its extracted copy.
	CacheKey  string
	Slot      string
	Signature string // detached provenance signature, if any
}

// Patcher turns application packages into patched ones. It is safe to call
// Patch from several goroutines; each call owns its containers.
type Patcher struct {
	opts    *models.PatchOptions
	layout  models.Layout
	bundle  *payload.Bundle
	signer  signer.Signer
	pgp     *signer.PGPSigner
	modules []*models.Module
	log     *logrus.Entry
}

// New loads the payload bundle, signing credentials and modules named in opts.
func New(opts *models.PatchOptions, layout models.Layout) (*Patcher, error) {
	bundle, err := payload.Load(opts.PayloadPath)
	if err != nil {
		return nil, &models.PatchError{Type: models.ErrInput, Package: opts.PayloadPath, Err: err}
	}

	cred, err := loadCredential(opts)
	if err != nil {
		return nil, &models.PatchError{Type: models.ErrSigning, Err: err}
	}

	var pgp *signer.PGPSigner
	if opts.PGPKeyPath != "" {
		pgp, err = signer.NewPGPSigner(opts.PGPKeyPath, opts.PGPPassphrase)
		if err != nil {
			return nil, &models.PatchError{Type: models.ErrSigning, Err: fmt.Errorf("failed to initialize PGP signer: %w", err)}
		}
		logrus.Info("PGP signer initialized")
	}

	var modules []*models.Module
	if !opts.UseManager {
		modules, err = LoadModules(opts.Modules, layout)
		if err != nil {
			return nil, err
		}
	}

	return &Patcher{
		opts:    opts,
		layout:  layout,
		bundle:  bundle,
		signer:  signer.NewV2Signer(cred),
		pgp:     pgp,
		modules: modules,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}, nil
}

func loadCredential(opts *models.PatchOptions) (*signer.Credential, error) {
	switch {
	case opts.PEMPath != "":
		logrus.Debugf("Using PEM credential %s", opts.PEMPath)
		return signer.LoadPEM(opts.PEMPath, opts.KeyPassword)
	case opts.KeystorePath != "":
		logrus.Debugf("Using keystore %s", opts.KeystorePath)
		return signer.LoadPKCS12(opts.KeystorePath, opts.KeystorePassword, opts.KeyAlias, opts.KeyPassword)
	default:
		logrus.Debug("Using the built-in signing credential")
		return signer.DefaultCredential()
	}
}

// WithLogger returns a copy of p that logs through log
func (p *Patcher) WithLogger(log *logrus.Entry) *Patcher {
	cp := *p
	cp.log = log
	return &cp
}

// Close releases the module handles
func (p *Patcher) Close() {
	CloseModules(p.modules)
}

// Patch runs the whole pipeline for one input package.
func (p *Patcher) Patch(ctx context.Context, input string) (*Result, error) {
	out, err := utils.OutputPath(p.opts.OutputDir, input, models.BuilderVersion)
	if err != nil {
		return nil, &models.PatchError{Type: models.ErrInput, Package: input, Err: err}
	}

	r := &run{
		Patcher: p,
		input:   input,
		output:  out,
		partial: utils.PartialPath(out),
		log:     p.log.WithFields(logrus.Fields{"package": filepath.Base(input)}),
		res:     &Result{Input: input, Output: out},
	}
	defer r.close()

	r.log.Infof("Processing %s -> %s", filepath.Base(input), filepath.Base(out))

	steps := []struct {
		stage models.Stage
		fn    func() error
	}{
		{models.StageOpened, r.open},
		{models.StageManifestExtracted, r.extractManifest},
		{models.StageMetadataBuilt, r.buildMetadata},
		{models.StageManifestRewritten, r.rewriteManifest},
		{models.StagePayloadInjected, r.injectPayload},
		{models.StageModulesEmbedded, r.embedModules},
		{models.StageOriginalContentLinked, r.linkOriginal},
		{models.StageRealigned, r.finalize},
		{models.StageSigned, r.sign},
		{models.StageClosed, r.commit},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			r.abort()
			return nil, fmt.Errorf("patch %s interrupted before stage %s: %w", input, s.stage, err)
		}
		r.stage = s.stage
		if err := s.fn(); err != nil {
			r.abort()
			return nil, err
		}
		r.log.Debugf("Reached stage %s", s.stage)
	}

	r.log.Infof("Patched %s (%s)", r.res.PackageName, filepath.Base(out))
	return r.res, nil
}

// run is the state of a single pipeline
type run struct {
	*Patcher
	input, output, partial string
	log                    *logrus.Entry
	stage                  models.Stage

	src       *container.Reader
	dst       *container.Writer
	doc       *axml.Document
	record    metadata.Record
	recordRaw []byte
	res       *Result
}

func (r *run) fail(typ models.ErrorType, entry string, err error) error {
	return &models.PatchError{Type: typ, Package: r.input, Stage: r.stage, Entry: entry, Err: err}
}

func (r *run) open() error {
	exists, err := utils.OutputExists(r.output)
	if err != nil {
		return r.fail(models.ErrInput, "", err)
	}
	if exists && !r.opts.Force {
		return r.fail(models.ErrOutputExists, "", fmt.Errorf("%w: %s (use --force to overwrite)", ErrOutputExists, r.output))
	}
	if err := utils.EnsureDir(filepath.Dir(r.output)); err != nil {
		return r.fail(models.ErrInput, "", fmt.Errorf("failed to create output directory: %w", err))
	}

	r.src, err = container.OpenReader(r.input)
	if err != nil {
		return r.fail(models.ErrInput, "", err)
	}
	r.dst, err = container.OpenWriter(r.partial, container.ModeCreate)
	if err != nil {
		return r.fail(models.ErrContainer, "", err)
	}

	rules := []container.AlignmentRule{
		container.SuffixAlignment(".so", r.layout.PageAlignment),
		container.ExactAlignment(r.layout.OriginalAPKPath, r.layout.PageAlignment),
		container.ExactAlignment("resources.arsc", 4),
	}
	for _, rule := range rules {
		if err := r.dst.SetAlignment(rule); err != nil {
			return r.fail(models.ErrContainer, "", err)
		}
	}

	r.log.Debug("Nesting original package...")
	sum, err := r.dst.Nest(r.layout.OriginalAPKPath, r.src)
	if err != nil {
		return r.fail(models.ErrContainer, r.layout.OriginalAPKPath, err)
	}
	r.res.CacheKey = sum.SHA256
	r.log.WithField("cache", r.layout.OriginCachePath(sum.SHA256)).Debugf("Original package is %d bytes", sum.Size)
	return nil
}

func (r *run) extractManifest() error {
	name := r.layout.ManifestPath
	data, err := r.src.ReadFile(name)
	if err != nil {
		return r.fail(models.ErrManifestParse, name, err)
	}
	r.doc, err = axml.Parse(data)
	if err != nil {
		return r.fail(models.ErrManifestParse, name, err)
	}
	r.res.PackageName, err = r.doc.PackageName()
	if err != nil {
		return r.fail(models.ErrManifestParse, name, err)
	}
	if minSDK, err := r.doc.MinSDKVersion(); err == nil {
		r.log.Debugf("Package %s, minSdkVersion %d", r.res.PackageName, minSDK)
	}
	return nil
}

func (r *run) buildMetadata() error {
	params := metadata.Params{
		UseManager:          r.opts.UseManager,
		Debuggable:          r.opts.Debuggable,
		OverrideVersionCode: r.opts.OverrideVersionCode,
		SigBypassLevel:      r.opts.SigBypassLevel,
		InjectProvider:      r.opts.InjectProvider,
		OutputLog:           r.opts.OutputLog,
		BuilderVersion:      models.BuilderVersion,
	}
	if factory := r.originalFactory(); factory != "" {
		params.AppComponentFactory = &factory
	}

	if r.opts.SigBypassLevel > 0 {
		sig, err := signer.OriginalSignature(r.input)
		if err != nil {
			return r.fail(models.ErrInput, "", err)
		}
		params.OriginalSignature = sig
	}

	rec, err := metadata.New(params)
	if err != nil {
		return r.fail(models.ErrInvalidConfig, "", err)
	}
	raw, err := rec.Encode()
	if err != nil {
		return r.fail(models.ErrInvalidConfig, "", err)
	}
	r.record, r.recordRaw = rec, raw
	return nil
}

// originalFactory returns the application's own component factory. A package
// patched before already points at the proxy, so the factory recorded in its
// loader configuration is used instead.
func (r *run) originalFactory() string {
	factory := r.doc.ComponentFactory()
	if factory != r.layout.ProxyComponentFactory {
		return factory
	}
	app := r.doc.Root.Child("application")
	if app == nil {
		return ""
	}
	for _, c := range app.Children {
		if c.Name != "meta-data" {
			continue
		}
		if name, _ := c.AndroidString("name"); name != r.layout.MetadataKey {
			continue
		}
		value, _ := c.AndroidString("value")
		prev, err := metadata.DecodeBase64(value)
		if err != nil {
			r.log.Warnf("Ignoring unreadable loader configuration: %v", err)
			return ""
		}
		f, _ := prev.AppComponentFactory()
		r.log.Debugf("Package was patched before, keeping component factory %q", f)
		return f
	}
	return ""
}

func (r *run) rewriteManifest() error {
	encoded, err := r.record.Base64()
	if err != nil {
		return r.fail(models.ErrManifestRewrite, r.layout.ManifestPath, err)
	}
	ed := manifest.NewEditor(manifest.Plan(r.opts, r.layout, r.res.PackageName, encoded)...)
	data, err := ed.Apply(r.doc)
	if err != nil {
		return r.fail(models.ErrManifestRewrite, r.layout.ManifestPath, err)
	}
	if err := r.dst.AddOwned(r.layout.ManifestPath, data, true); err != nil {
		return r.fail(models.ErrContainer, r.layout.ManifestPath, err)
	}
	return nil
}

func (r *run) injectPayload() error {
	if err := r.dst.AddOwned(r.layout.ConfigAssetPath, r.recordRaw, true); err != nil {
		return r.fail(models.ErrContainer, r.layout.ConfigAssetPath, err)
	}

	if r.opts.InjectProvider {
		r.log.Info("Adding provider dex...")
		if err := r.addPayload(payload.ProviderDex, r.layout.ProviderDexPath, true); err != nil {
			return err
		}
	}

	r.log.Info("Adding loader dex...")
	if err := r.addPayload(payload.LoaderDex, r.layout.LoaderDexPath, true); err != nil {
		return err
	}

	r.log.Info("Adding native libraries...")
	for _, arch := range r.layout.Arches {
		if err := r.addPayload(payload.NativeLib(arch), r.layout.NativeLibPath(arch), false); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) addPayload(file, entry string, compress bool) error {
	data, err := r.bundle.File(file)
	if err != nil {
		return r.fail(models.ErrInput, entry, err)
	}
	if err := r.dst.AddOwned(entry, data, compress); err != nil {
		return r.fail(models.ErrContainer, entry, err)
	}
	r.log.Debugf("Added %s (%d bytes)", entry, len(data))
	return nil
}

func (r *run) embedModules() error {
	if r.opts.UseManager {
		return nil
	}
	for _, m := range r.modules {
		entry := r.layout.ModulePath(m.PackageName)
		r.log.Infof("Embedding module %s...", m.PackageName)
		src, ok := m.Handle.(*container.Reader)
		if !ok {
			return r.fail(models.ErrInput, entry, fmt.Errorf("module %s is not open", m.PackageName))
		}
		if _, err := r.dst.Nest(entry, src); err != nil {
			return r.fail(models.ErrContainer, entry, err)
		}
	}
	return nil
}

func (r *run) linkOriginal() error {
	r.log.Info("Linking original content...")
	linked := 0
	for e := range r.src.Entries() {
		switch {
		case e.Name == r.layout.ManifestPath:
			continue
		case models.IsSignatureFile(e.Name):
			r.log.Debugf("Dropping signature file %s", e.Name)
			continue
		case r.dst.Has(e.Name):
			r.log.Debugf("Skipping %s, already injected", e.Name)
			continue
		}
		if err := r.dst.AddLinked(e.Name, r.src, e.Name); err != nil {
			return r.fail(models.ErrContainer, e.Name, err)
		}
		linked++
	}
	r.log.Debugf("Linked %d entries", linked)

	slot, err := FindSlot(r.layout, func(name string) bool {
		return r.src.Has(name) || r.dst.Has(name)
	})
	if err != nil {
		return r.fail(models.ErrNoAvailableSlot, "", err)
	}
	r.log.Infof("Adding loader stub as %s...", slot)
	if err := r.addPayload(payload.MetaLoaderDex, slot, true); err != nil {
		return err
	}
	r.res.Slot = slot
	return nil
}

func (r *run) finalize() error {
	if err := r.dst.Finalize(); err != nil {
		return r.fail(models.ErrContainer, "", err)
	}
	return nil
}

func (r *run) sign() error {
	r.log.Info("Signing...")
	if err := r.signer.Sign(r.partial); err != nil {
		return r.fail(models.ErrSigning, "", err)
	}
	return nil
}

// commit signs the partial for provenance and only then moves the package
// and its signature onto their final names.
func (r *run) commit() error {
	partialAsc := r.partial + ".asc"
	if r.pgp != nil {
		if err := r.pgp.SignTo(r.partial, partialAsc); err != nil {
			return r.fail(models.ErrSigning, r.output, err)
		}
	}
	if err := utils.Commit(r.partial, r.output); err != nil {
		_ = utils.RemoveIfExists(partialAsc)
		return r.fail(models.ErrContainer, "", err)
	}
	if r.pgp == nil {
		return nil
	}
	asc := r.output + ".asc"
	if err := utils.Commit(partialAsc, asc); err != nil {
		// an unsigned package must not stay behind
		_ = utils.RemoveIfExists(r.output)
		_ = utils.RemoveIfExists(partialAsc)
		return r.fail(models.ErrSigning, r.output, err)
	}
	r.res.Signature = asc
	return nil
}

// abort drops the partial output. A committed output is left alone.
func (r *run) abort() {
	if r.dst == nil || r.stage == models.StageClosed {
		return
	}
	if err := r.dst.Abort(); err != nil {
		r.log.Warnf("Failed to remove %s: %v", r.partial, err)
	}
}

func (r *run) close() {
	if r.src != nil {
		r.src.Close()
	}
}
