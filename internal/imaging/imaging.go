package imaging

import (
	"bytes"
	"fmt"
	"image"
	"net/http"

	// 注册常见图片格式的解码器，image.Decode 依赖 init 副作用。
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Image 表示解码后的内存图像，Format 由解码器探测得出（png/jpeg/gif）。
type Image struct {
	Pixels image.Image
	Format string
	Width  int
	Height int
}

// Options 控制解码行为。ConfigOnly 仅解析图像尺寸与格式，不展开像素，
// 适合只需要元信息的调用方。
type Options struct {
	ConfigOnly bool
}

// Decoder 将编码字节解码为 Image，供加载链路注入真实或伪造实现。
type Decoder interface {
	Decode(data []byte, opts Options) (*Image, error)
}

// StdDecoder 基于标准库 image 包实现 Decoder。
type StdDecoder struct{}

// Decode 解码编码载荷；输入不是受支持的图片格式时返回错误。
func (StdDecoder) Decode(data []byte, opts Options) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode image: empty payload")
	}

	if opts.ConfigOnly {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image config: %w", err)
		}
		return &Image{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	return &Image{
		Pixels: img,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// SniffContentType 探测编码载荷的 MIME 类型，供 HTTP 层设置响应头。
func SniffContentType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return http.DetectContentType(data)
}
