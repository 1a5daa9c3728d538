package browser

import (
	"context"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// blockResourceTypes enables the network domain and installs a
// URL-pattern blocklist covering the resource types named. The CDP
// network domain blocks by URL glob rather than by resource type
// directly, so each type maps to its common file extensions.
func blockResourceTypes(ctx context.Context, types []string) error {
	var patterns []string
	for _, t := range types {
		patterns = append(patterns, extensionPatterns(t)...)
	}
	if len(patterns) == 0 {
		return nil
	}
	return chromedp.Run(ctx,
		network.Enable(),
		network.SetBlockedURLs(patterns),
	)
}

func extensionPatterns(resourceType string) []string {
	switch resourceType {
	case "Image":
		return []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico"}
	case "Stylesheet":
		return []string{"*.css"}
	case "Font":
		return []string{"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot"}
	case "Media":
		return []string{"*.mp4", "*.webm", "*.mp3", "*.wav", "*.avi"}
	default:
		return nil
	}
}
