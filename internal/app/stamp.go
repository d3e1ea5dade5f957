package app

import (
	"context"
	"fmt"

	"github.com/Cioscos/fake-dfl-images/internal/dfl"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
)

// LoadError 表示文件无法按 DFL JPEG 读取（编解码器给不出元数据记录）。
type LoadError struct {
	Name string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("impossible to load image %s at filepath: %s: %v", e.Name, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError 表示元数据已修改但写回失败（权限、磁盘满、段过大等）。
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("写回 %s 失败：%v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// SourceFilenameStamper 把每个文件的 source_filename 改成它自己的文件名。
//
// 语义：load -> set(base name) -> save（原地覆盖，不备份）。
// 重复执行结果不变：写入值只取决于文件名。
type SourceFilenameStamper struct{}

// Mutate 返回写入前的 source_filename（没有则为空串）。
func (SourceFilenameStamper) Mutate(ctx context.Context, f domain.ImageFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := dfl.Load(f.AbsPath)
	if err != nil {
		return "", &LoadError{Name: f.Name, Path: f.AbsPath, Err: err}
	}

	prev, _ := img.SourceFilename()
	img.SetSourceFilename(f.Name)
	if err := img.Save(); err != nil {
		return prev, &SaveError{Path: f.AbsPath, Err: err}
	}
	return prev, nil
}
