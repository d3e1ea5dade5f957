package domain

// ImageFile 描述一次扫描得到的候选图片（只看文件名，不读内容）。
//
// 不变量：
// - AbsPath 是 clean 后的路径，作为身份标识
// - Name 是 base name，即写入 source_filename 的值
type ImageFile struct {
	AbsPath string
	RelPath string
	Name    string
}
