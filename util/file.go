package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/segmentio/ksuid"

	nhttp "github.com/chaos-io/unbg/util/http"

	_ "image/gif"
	_ "image/jpeg"

	_ "github.com/ftrvxmtrx/tga"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const backupSuffix = ".backup"

var ErrUnsupportedFormat = errors.New("unsupported output format")

// IsURL 判断是否为 http(s) 地址
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// LoadImage 按来源加载图片：http(s) 地址走下载，其余按本地路径打开
func LoadImage(ctx context.Context, cli nhttp.IClient, src string) (image.Image, error) {
	if IsURL(src) {
		return DownloadImage(ctx, cli, src)
	}
	return OpenImage(src)
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) (image.Image, error) {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}

	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return img, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// checkExt 只有 .png 和 .webp 保留 alpha 通道
func checkExt(ext string) error {
	switch strings.ToLower(ext) {
	case "", ".png", ".webp":
		return nil
	}
	return fmt.Errorf("%w %q: only .png and .webp keep the alpha channel", ErrUnsupportedFormat, ext)
}

// EncodeImage 按扩展名编码：.webp 为无损 WebP，其余为 PNG
func EncodeImage(w io.Writer, ext string, img image.Image) error {
	if err := checkExt(ext); err != nil {
		return err
	}
	if strings.ToLower(ext) == ".webp" {
		return nativewebp.Encode(w, img, nil)
	}
	return png.Encode(w, img)
}

// SaveImage 写入图片。先写同目录下的临时文件再 rename，失败时原文件保持不变；
// 覆盖已有文件时沿用它的权限
func SaveImage(path string, img image.Image) error {
	ext := filepath.Ext(path)
	if err := checkExt(ext); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+ksuid.New().String()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		_ = os.Remove(tmp)
	}()

	if err := EncodeImage(f, ext, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if info, err := os.Stat(path); err == nil {
		if err := f.Chmod(info.Mode().Perm()); err != nil {
			_ = f.Close()
			return fmt.Errorf("chmod %s: %w", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// BackupPath 备份文件路径
func BackupPath(path string) string {
	return path + backupSuffix
}

// Backup 覆盖原图前复制一份 <path>.backup，已有备份时不再覆盖
func Backup(path string) (string, bool, error) {
	backup := BackupPath(path)
	if _, err := os.Stat(backup); err == nil {
		return backup, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("stat %s: %w", backup, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.OpenFile(backup, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", false, fmt.Errorf("create %s: %w", backup, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(backup)
		return "", false, fmt.Errorf("copy %s: %w", backup, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(backup)
		return "", false, fmt.Errorf("close %s: %w", backup, err)
	}
	return backup, true, nil
}

// SourceFor 优先使用备份作为输入，保证重复执行时总是从原图开始
func SourceFor(path string, preferBackup bool) string {
	if !preferBackup || IsURL(path) {
		return path
	}
	backup := BackupPath(path)
	if _, err := os.Stat(backup); err == nil {
		return backup
	}
	return path
}
