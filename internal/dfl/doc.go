// Package dfl 读写 DFL 约定下嵌在 JPEG 里的元数据。
//
// DFL 图片是普通 JPEG，额外带一个 APP15 段，内容是 pickle 序列化的 Python dict
// （source_filename、landmarks、face_type 等）。本包只负责：
//   - 把 JPEG 切成 marker 段并原样回写（除 APP15 外逐字节保留）
//   - 解码/编码 APP15 中的 dict
//
// 不解码像素；不校验 dict 的业务字段。
package dfl
