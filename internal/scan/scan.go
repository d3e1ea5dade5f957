package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Cioscos/fake-dfl-images/internal/domain"
)

// imageSuffixes 是固定且大小写敏感的后缀集合（.Jpg 之类不在其中）。
var imageSuffixes = []string{".jpg", ".JPG", ".jpeg", ".JPEG"}

// InvalidInputError 表示扫描根目录不存在或不是目录。
type InvalidInputError struct {
	Path string
	Err  error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%q 不是有效目录：%v", e.Path, e.Err)
	}
	return fmt.Sprintf("%q 不是有效目录", e.Path)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// ScanImages 递归扫描 root 下的 JPEG 文件。
//
// 规则（硬约束）：
// - 后缀匹配是纯字符串后缀比较，不做大小写归一，也不看文件内容
// - 输出顺序即遍历顺序；不排序、不去重
// - 符号链接不跟随进入目录；指向目录的链接即使名字像图片也跳过
func ScanImages(root string) ([]domain.ImageFile, error) {
	root = filepath.Clean(root)

	fi, err := os.Stat(root)
	if err != nil {
		return nil, &InvalidInputError{Path: root, Err: err}
	}
	if !fi.IsDir() {
		return nil, &InvalidInputError{Path: root}
	}

	files := make([]domain.ImageFile, 0, 128)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if !IsImageName(name) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if st, err := os.Stat(path); err == nil && st.IsDir() {
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files = append(files, domain.ImageFile{
			AbsPath: path,
			RelPath: rel,
			Name:    name,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// IsImageName 判断文件名是否以受支持的后缀结尾。
func IsImageName(name string) bool {
	for _, s := range imageSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
