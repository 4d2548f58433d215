// Package crawler collects image URLs from an HTML page so a whole gallery
// can be fed to the batch runner.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	nhttp "github.com/chaos-io/unbg/util/http"
)

// 匹配 img 标签中的 src
var imgSrc = regexp.MustCompile(`<img[^>]+src="([^">]+)"`)

// ImageURLs 抓取页面中的图片地址。只保留包含 contains 的地址（为空时全部保留），
// 补全相对路径并去重，顺序与页面一致
func ImageURLs(ctx context.Context, cli nhttp.IClient, pageURL, contains string) ([]string, error) {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	baseURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("crawler: parse %s: %w", pageURL, err)
	}

	var body []byte
	err = cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: pageURL,
		Method:     http.MethodGet,
		Response:   &body,
	})
	if err != nil {
		return nil, fmt.Errorf("crawler: fetch %s: %w", pageURL, err)
	}

	seen := make(map[string]bool)
	var urls []string
	for _, m := range imgSrc.FindAllSubmatch(body, -1) {
		imgURL := string(m[1])
		if contains != "" && !strings.Contains(imgURL, contains) {
			continue
		}

		// 补全相对路径
		u, err := url.Parse(normalizeThumbURL(imgURL))
		if err != nil {
			continue
		}
		full := baseURL.ResolveReference(u).String()
		if seen[full] {
			continue
		}
		seen[full] = true
		urls = append(urls, full)
	}
	return urls, nil
}

// normalizeThumbURL 把 MediaWiki 缩略图地址还原为原图地址：
// /images/thumb/a/ab/X.png/300px-X.png -> /images/a/ab/X.png
func normalizeThumbURL(imgURL string) string {
	parts := strings.Split(imgURL, "/thumb/")
	if len(parts) != 2 {
		return imgURL
	}
	sub := parts[1]
	idx := strings.LastIndex(sub, "/")
	if idx == -1 {
		return imgURL
	}
	return parts[0] + "/" + sub[:idx]
}
