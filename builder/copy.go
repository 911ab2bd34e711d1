package builder

import (
	"io"
	"os"
	"path/filepath"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
	"golang.org/x/xerrors"
)

// CopyBuilder copies each source file into DestDir unchanged, one target
// per source,
// grounded on the original's copyFile helper. It is a batch builder: a
// single changed source only rebuilds that source's target.
type CopyBuilder struct {
	DestDir string
}

func NewCopyBuilder(destDir string) *CopyBuilder { return &CopyBuilder{DestDir: destDir} }

func (b *CopyBuilder) Name() string      { return "copy" }
func (b *CopyBuilder) Signature() []byte { return []byte("copy:" + b.DestDir) }

func (b *CopyBuilder) Initiate() (node.Builder, error) { return b, nil }

func (b *CopyBuilder) destPath(src entity.Entity) string {
	fe, ok := src.(*entity.FileEntity)
	if !ok {
		return filepath.Join(b.DestDir, src.Name())
	}
	return filepath.Join(b.DestDir, filepath.Base(fe.Path()))
}

func (b *CopyBuilder) GetTargetEntities(sources []entity.Entity) ([]entity.Entity, error) {
	out := make([]entity.Entity, len(sources))
	for i, s := range sources {
		out[i] = entity.NewFileEntity(b.destPath(s), entity.SignaturePolicyChecksum)
	}
	return out, nil
}

func (b *CopyBuilder) MakeEntity(raw interface{}) (entity.Entity, error) {
	path, ok := raw.(string)
	if !ok {
		return nil, xerrors.Errorf("builder: MakeEntity: want string, got %T", raw)
	}
	return b.MakeFileEntity(path)
}

func (b *CopyBuilder) MakeFileEntity(path string) (entity.Entity, error) {
	return entity.NewFileEntity(path, entity.SignaturePolicyChecksum), nil
}

func (b *CopyBuilder) MakeEntities(raw []interface{}) ([]entity.Entity, error) {
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

func (b *CopyBuilder) Depends(sources []entity.Entity) ([]*node.Node, error) { return nil, nil }
func (b *CopyBuilder) Replace(sources []entity.Entity) ([]node.Source, error) {
	return nil, nil
}

// Split is never called: IsBatch is true, so the core checks and builds
// staleness per source directly instead of asking for split groups.
func (b *CopyBuilder) Split(sources []entity.Entity) ([][]entity.Entity, error) {
	return nil, nil
}

func (b *CopyBuilder) IsBatch() bool { return true }

func (b *CopyBuilder) Build(sources []entity.Entity, targets []*node.NodeEntity) error {
	return xerrors.New("builder: Build called on batch CopyBuilder")
}

func (b *CopyBuilder) BuildBatch(sources []entity.Entity, targets *node.BatchTargets) error {
	for _, src := range sources {
		ne, err := targets.Get(src)
		if err != nil {
			return err
		}
		dest := b.destPath(src)
		if err := copyFile(src, dest); err != nil {
			return err
		}
		ne.AddTargets([]entity.Entity{entity.NewFileEntity(dest, entity.SignaturePolicyChecksum)})
	}
	return nil
}

// Clear removes DestDir entirely, the same as CommandBuilder.Clear: a
// batch builder's individual NodeEntity records don't stay around once
// their source Node is gone, so there is nothing finer-grained to target.
func (b *CopyBuilder) Clear(n *node.Node) error {
	if err := os.RemoveAll(b.DestDir); err != nil {
		return xerrors.Errorf("builder: clear %s: %w", b.DestDir, err)
	}
	return nil
}

func (b *CopyBuilder) GetWeight(n *node.Node) int { return 1 }

func (b *CopyBuilder) GetTraceArgs(sources, targets []entity.Entity, brief bool) []string {
	if len(sources) == 0 {
		return []string{"copy"}
	}
	return []string{"copy", sources[0].Name()}
}

// copyFile copies src's file content to dest, creating dest's parent
// directory as needed.
func copyFile(src entity.Entity, dest string) error {
	fe, ok := src.(*entity.FileEntity)
	if !ok {
		return xerrors.Errorf("builder: copyFile: source %s is not a file", src.Name())
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := os.Open(fe.Path())
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

var _ node.Builder = (*CopyBuilder)(nil)
