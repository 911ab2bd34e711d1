// Package builder provides concrete node.Builder implementations:
// CommandBuilder runs a sequence of external commands against a node's
// sources to produce files under a destination directory, and CopyBuilder
// covers the simpler per-source copy transform. They exist to exercise the
// core against real builders, not to be exhaustive — callers with more
// specialized needs implement node.Builder directly.
package builder

import (
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
	"golang.org/x/xerrors"
)

// Step is one command to run, argv-style, with %SOURCES% substituted for
// the space-joined list of source paths (mirroring the step textproto argv
// substitution the original build steps use).
type Step struct {
	Argv []string
}

// CommandBuilder runs a fixed sequence of Steps against its sources,
// writing to DestDir, and reports every regular file found under DestDir
// afterward as a target. It is monolithic: all sources
// are built together, in one invocation per step.
type CommandBuilder struct {
	// BuilderName identifies this builder; same configuration must yield
	// the same name across processes.
	BuilderName string
	Steps       []Step
	DestDir     string
	Env         []string
	Log         *log.Logger

	signature []byte
}

// NewCommandBuilder returns a CommandBuilder whose Signature is derived
// from name and the step argv lists, so a changed command line forces a
// rebuild without the caller having to track that itself.
func NewCommandBuilder(name string, steps []Step, destDir string, env []string, logger *log.Logger) *CommandBuilder {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	var sb strings.Builder
	sb.WriteString(name)
	for _, s := range steps {
		sb.WriteString("\x00")
		sb.WriteString(strings.Join(s.Argv, "\x1f"))
	}
	return &CommandBuilder{
		BuilderName: name,
		Steps:       steps,
		DestDir:     destDir,
		Env:         env,
		Log:         logger,
		signature:   []byte(sb.String()),
	}
}

func (b *CommandBuilder) Name() string      { return b.BuilderName }
func (b *CommandBuilder) Signature() []byte { return b.signature }

// Initiate returns the receiver unspecialized: CommandBuilder needs no
// per-node toolchain resolution.
func (b *CommandBuilder) Initiate() (node.Builder, error) { return b, nil }

// GetTargetEntities previews DestDir's current contents as a cheap name
// preview; the real contents after Build may differ; only used to name
// the NodeEntity before a build runs.
func (b *CommandBuilder) GetTargetEntities(sources []entity.Entity) ([]entity.Entity, error) {
	return b.scanDestDir()
}

func (b *CommandBuilder) scanDestDir() ([]entity.Entity, error) {
	var out []entity.Entity
	err := filepath.Walk(b.DestDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		out = append(out, entity.NewFileEntity(path, entity.SignaturePolicyChecksum))
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("builder: scan %s: %w", b.DestDir, err)
	}
	return out, nil
}

func (b *CommandBuilder) MakeEntity(raw interface{}) (entity.Entity, error) {
	path, ok := raw.(string)
	if !ok {
		return nil, xerrors.Errorf("builder: MakeEntity: want string, got %T", raw)
	}
	return b.MakeFileEntity(path)
}

func (b *CommandBuilder) MakeFileEntity(path string) (entity.Entity, error) {
	return entity.NewFileEntity(path, entity.SignaturePolicyChecksum), nil
}

func (b *CommandBuilder) MakeEntities(raw []interface{}) ([]entity.Entity, error) {
	out := make([]entity.Entity, len(raw))
	for i, r := range raw {
		e, err := b.MakeEntity(r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// Depends reports no additional dependency Nodes; a CommandBuilder only
// depends on the sources it was constructed with.
func (b *CommandBuilder) Depends(sources []entity.Entity) ([]*node.Node, error) { return nil, nil }

// Replace never substitutes sources.
func (b *CommandBuilder) Replace(sources []entity.Entity) ([]node.Source, error) { return nil, nil }

// Split never splits: a CommandBuilder's steps run once over all sources
// together, since later steps (e.g. "make install") depend on earlier
// ones having run (e.g. "configure", "make").
func (b *CommandBuilder) Split(sources []entity.Entity) ([][]entity.Entity, error) { return nil, nil }

func (b *CommandBuilder) IsBatch() bool { return false }

// Build runs each Step in order, substituting %SOURCES% for the
// space-joined source paths, and records every file under DestDir
// afterward as a target.
func (b *CommandBuilder) Build(sources []entity.Entity, targets []*node.NodeEntity) error {
	if err := os.MkdirAll(b.DestDir, 0755); err != nil {
		return xerrors.Errorf("builder: mkdir %s: %w", b.DestDir, err)
	}
	srcPaths := make([]string, 0, len(sources))
	for _, s := range sources {
		if fe, ok := s.(*entity.FileEntity); ok {
			srcPaths = append(srcPaths, fe.Path())
		}
	}
	joined := strings.Join(srcPaths, " ")

	for i, step := range b.Steps {
		argv := make([]string, len(step.Argv))
		for j, a := range step.Argv {
			argv[j] = strings.ReplaceAll(a, "%SOURCES%", joined)
		}
		b.Log.Printf("build step %d of %d: %v", i+1, len(b.Steps), argv)
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Dir = b.DestDir
		if len(b.Env) > 0 {
			cmd.Env = b.Env
		}
		var stderr strings.Builder
		cmd.Stdout = io.Discard
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return xerrors.Errorf("builder: step %v: %w: %s", argv, err, stderr.String())
		}
	}

	produced, err := b.scanDestDir()
	if err != nil {
		return err
	}
	if len(targets) != 1 {
		return xerrors.Errorf("builder: Build: want exactly one target NodeEntity, got %d", len(targets))
	}
	targets[0].AddTargets(produced)
	return nil
}

// BuildBatch is never called: IsBatch is false.
func (b *CommandBuilder) BuildBatch(sources []entity.Entity, targets *node.BatchTargets) error {
	return xerrors.New("builder: BuildBatch called on non-batch CommandBuilder")
}

// Clear removes DestDir entirely.
func (b *CommandBuilder) Clear(n *node.Node) error {
	if err := os.RemoveAll(b.DestDir); err != nil {
		return xerrors.Errorf("builder: clear %s: %w", b.DestDir, err)
	}
	return nil
}

func (b *CommandBuilder) GetWeight(n *node.Node) int { return len(b.Steps) }

func (b *CommandBuilder) GetTraceArgs(sources, targets []entity.Entity, brief bool) []string {
	if brief || len(b.Steps) == 0 {
		return []string{b.BuilderName}
	}
	return append([]string{b.BuilderName}, b.Steps[0].Argv...)
}

var _ node.Builder = (*CommandBuilder)(nil)
