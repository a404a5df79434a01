package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPlatforms はスナップショットのプラットフォーム別件数の既定の対象。
var DefaultPlatforms = []string{"craigslist", "mercadolibre", "facebook"}

// FeedSource は掲載フィード1件の定義。
type FeedSource struct {
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	URL      string `yaml:"url"`
}

// Sources は掲載元定義ファイルの内容。
type Sources struct {
	Platforms []string     `yaml:"platforms"`
	Feeds     []FeedSource `yaml:"feeds"`
}

// LoadSources はYAMLの掲載元定義ファイルを読み込む。
// pathが空の場合は既定のプラットフォームのみでフィードを持たない定義を返す。
func LoadSources(path string) (*Sources, error) {
	if path == "" {
		return &Sources{Platforms: slices.Clone(DefaultPlatforms)}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("掲載元定義ファイルの読み込みに失敗しました: %w", err)
	}
	return ParseSources(data)
}

// ParseSources はYAMLを解析して検証する。未知のキーはエラーにする。
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("掲載元定義の解析に失敗しました: %w", err)
	}

	if len(s.Platforms) == 0 {
		s.Platforms = slices.Clone(DefaultPlatforms)
	}
	for i, p := range s.Platforms {
		s.Platforms[i] = strings.ToLower(strings.TrimSpace(p))
	}

	names := make(map[string]struct{}, len(s.Feeds))
	for i := range s.Feeds {
		f := &s.Feeds[i]
		f.Platform = strings.ToLower(strings.TrimSpace(f.Platform))
		f.URL = strings.TrimSpace(f.URL)

		if f.URL == "" {
			return nil, fmt.Errorf("feeds[%d]: urlは必須です", i)
		}
		if !slices.Contains(s.Platforms, f.Platform) {
			return nil, fmt.Errorf("feeds[%d]: 未知のプラットフォームです: %q", i, f.Platform)
		}
		if f.Name == "" {
			f.Name = fmt.Sprintf("%s-%d", f.Platform, i+1)
		}
		if _, dup := names[f.Name]; dup {
			return nil, fmt.Errorf("feeds[%d]: nameが重複しています: %q", i, f.Name)
		}
		names[f.Name] = struct{}{}
	}
	return &s, nil
}
