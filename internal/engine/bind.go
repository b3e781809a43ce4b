package engine

import (
	"os"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"go.uber.org/zap"
)

// binding is an initialized analytic with the objects and files it holds.
type binding struct {
	a     analytic.Analytic
	env   *analytic.Env
	refs  []*data.Reference
	files []*os.File
	out   []*os.File
	log   *zap.Logger

	// staged maps each output written under a temporary name to its final
	// path; publish renames them into place.
	staged map[string]string
}

// outputMode selects how bind creates an analytic's outputs.
type outputMode int

const (
	// noOutputs leaves outputs unbound, as on workers and chunk runs.
	noOutputs outputMode = iota
	// liveOutputs creates outputs at their final paths.
	liveOutputs
	// stagedOutputs creates outputs at <path>.tmp; they replace the final
	// paths only through publish.
	stagedOutputs
)

// bind creates the analytic for job, opens its inputs and, unless mode is
// noOutputs, creates its outputs stamped with system metadata.
func (e *Engine) bind(job Job, runID string, mode outputMode, log *zap.Logger) (*binding, error) {
	a, err := e.analytics.Create(job.Analytic)
	if err != nil {
		return nil, err
	}
	b := &binding{
		a:   a,
		log: log,
		env: &analytic.Env{
			Args:   job.Args,
			Inputs: make(map[string]*data.Object),
			Files:  make(map[string]*os.File),
			Log:    log,
		},
	}
	if mode != noOutputs {
		b.env.Outputs = make(map[string]*data.Object)
	}

	inputs := a.Inputs()
	for _, in := range inputs {
		path := job.Args.String(in.Name)
		if path == "" {
			continue
		}
		switch in.Type {
		case analytic.DataIn:
			if err := b.openData(e.manager, in, path); err != nil {
				b.abort()
				return nil, err
			}
		case analytic.FileIn:
			f, err := os.Open(path)
			if err != nil {
				b.abort()
				return nil, errors.Wrapf(err, errors.ErrorTypeIO, "failed to open input file %s", path).
					WithDetail("field", in.Name).WithDetail("path", path)
			}
			b.files = append(b.files, f)
			b.env.Files[in.Name] = f
		}
	}

	if mode != noOutputs {
		fp, err := job.Fingerprint()
		if err != nil {
			b.abort()
			return nil, err
		}
		sys := e.systemMetadata(job, runID, fp, b.env.Inputs)
		for _, in := range inputs {
			path := job.Args.String(in.Name)
			if path == "" || !in.Type.IsOutput() {
				continue
			}
			if mode == stagedOutputs {
				if path, err = b.stage(e.manager, path); err != nil {
					b.abort()
					return nil, errors.Wrapf(err, errors.TypeOf(err), "failed to stage output %q", in.Name).
						WithDetail("field", in.Name)
				}
			}
			if err := b.createOutput(e.manager, in, path, sys); err != nil {
				b.abort()
				return nil, err
			}
		}
	}

	if err := a.Initialize(b.env); err != nil {
		b.abort()
		return nil, errors.Wrapf(err, errors.TypeOf(err), "failed to initialize %s", job.Analytic).
			WithDetail("analytic", job.Analytic)
	}
	return b, nil
}

func (b *binding) openData(m *data.Manager, in analytic.Input, path string) error {
	ref, err := m.Open(path)
	if err != nil {
		return errors.Wrapf(err, errors.TypeOf(err), "failed to open data input %s", path).
			WithDetail("field", in.Name).WithDetail("path", path)
	}
	b.refs = append(b.refs, ref)
	obj := ref.Object()
	if obj.IsNew() {
		return errors.Newf(errors.ErrorTypeIO, "data input %s does not exist", path).
			WithDetail("field", in.Name).WithDetail("path", path)
	}
	if in.Kind != 0 {
		if err := obj.Expect(in.Kind); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeTypeMismatch, "data input %q", in.Name).WithDetail("field", in.Name)
		}
	}
	b.env.Inputs[in.Name] = obj
	return nil
}

func (b *binding) createOutput(m *data.Manager, in analytic.Input, path string, sys *metadata.Value) error {
	switch in.Type {
	case analytic.DataOut:
		if in.Kind == 0 {
			return errors.Newf(errors.ErrorTypeInvalidArgument, "data output %q declares no kind", in.Name).
				WithDetail("field", in.Name)
		}
		ref, err := m.Create(path, in.Kind, sys)
		if err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "failed to create data output %s", path).
				WithDetail("field", in.Name).WithDetail("path", path)
		}
		b.refs = append(b.refs, ref)
		b.env.Outputs[in.Name] = ref.Object()
	case analytic.FileOut:
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "failed to create output file %s", path).
				WithDetail("field", in.Name).WithDetail("path", path)
		}
		b.files = append(b.files, f)
		b.out = append(b.out, f)
		b.env.Files[in.Name] = f
	}
	return nil
}

// finish runs the analytic's Finish, then finishes every output object and
// syncs output files.
func (b *binding) finish() error {
	if err := b.a.Finish(); err != nil {
		return errors.Wrapf(err, errors.TypeOf(err), "analytic finish failed")
	}
	for name, obj := range b.env.Outputs {
		if err := obj.Finish(); err != nil {
			return errors.Wrapf(err, errors.TypeOf(err), "failed to finish output %q", name).
				WithDetail("field", name).WithDetail("path", obj.Path())
		}
	}
	for _, f := range b.out {
		if err := f.Sync(); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "failed to sync %s", f.Name()).WithDetail("path", f.Name())
		}
	}
	return nil
}

// stage returns the temporary path an output at final is written to. The
// final object must not be held open, since publish replaces its file.
func (b *binding) stage(m *data.Manager, final string) (string, error) {
	key, err := data.Canonical(final)
	if err != nil {
		return "", err
	}
	if m.RefCount(key) > 0 {
		return "", errors.Newf(errors.ErrorTypeConflict, "%s is open and cannot be replaced", key).
			WithDetail("path", key)
	}
	tmp := key + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, errors.ErrorTypeIO, "failed to remove stale %s", tmp).WithDetail("path", tmp)
	}
	if b.staged == nil {
		b.staged = make(map[string]string)
	}
	b.staged[tmp] = key
	return tmp, nil
}

// publish releases the binding and renames staged outputs to their final
// paths. It must follow a successful finish.
func (b *binding) publish() error {
	b.close()
	for tmp, final := range b.staged {
		if err := os.Rename(tmp, final); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "failed to publish %s", final).WithDetail("path", final)
		}
		delete(b.staged, tmp)
	}
	return nil
}

// close releases every reference and file. It is safe to call twice.
func (b *binding) close() {
	for _, ref := range b.refs {
		if err := ref.Release(); err != nil {
			b.log.Warn("failed to release data object", zap.String("path", ref.Path()), zap.Error(err))
		}
	}
	b.refs = nil
	for _, f := range b.files {
		f.Close()
	}
	b.files = nil
	b.out = nil
}

// abort releases the binding and deletes staged outputs that were never
// published.
func (b *binding) abort() {
	b.close()
	b.discard()
}

func (b *binding) discard() {
	for tmp := range b.staged {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			b.log.Warn("failed to delete staged output", zap.String("path", tmp), zap.Error(err))
		}
	}
	b.staged = nil
}

// systemMetadata builds the framework tree stamped into outputs: run uuid,
// framework version, copies of the input metadata, the command arguments and
// the run fingerprint.
func (e *Engine) systemMetadata(job Job, runID string, fp analytic.Fingerprint, inputs map[string]*data.Object) *metadata.Value {
	sys := metadata.NewObject()
	_ = sys.Set("uuid", metadata.String(runID))

	version := metadata.NewObject()
	_ = version.Set("ace", metadata.String(Version))
	_ = sys.Set("version", version)

	in := metadata.NewObject()
	for _, it := range job.Args.List() {
		obj, ok := inputs[it.Name]
		if !ok {
			continue
		}
		entry := metadata.NewObject()
		_ = entry.Set("path", metadata.String(obj.Path()))
		_ = entry.Set("system", obj.SystemMeta())
		_ = entry.Set("user", obj.UserMeta())
		_ = in.Set(it.Name, entry)
	}
	_ = sys.Set("input", in)

	_ = sys.Set("command", job.Args.Metadata())

	run := metadata.NewObject()
	_ = run.Set("analytic", metadata.String(job.Analytic))
	_ = run.Set("fingerprint", metadata.String(fp.String()))
	_ = sys.Set("run", run)
	return sys
}
