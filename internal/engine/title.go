// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// ImageTitle is the title of a chat whose first message is only an image.
const ImageTitle = "Image"

// deriveTitle builds a chat title from the first message: whitespace
// collapsed, NFC-normalized, cut to max runes.
func deriveTitle(text string, img *model.Image, max int) string {
	// UNICODE: NFC so composed and decomposed input give the same title.
	t := strings.Join(strings.Fields(norm.NFC.String(text)), " ")
	if t == "" {
		if img != nil {
			return ImageTitle
		}
		return model.DefaultChatTitle
	}
	return util.TruncateRunes(t, max)
}

// normalizeTitle trims and NFC-normalizes a user-supplied title.
func normalizeTitle(title string) string {
	return strings.TrimSpace(norm.NFC.String(title))
}
