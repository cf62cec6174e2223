// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CHAT REFERENCES
// =============================================================================

// errAmbiguous is returned when an ID prefix matches more than one chat.
var errAmbiguous = errors.New("chat reference is ambiguous")

// resolveChat finds a chat by its 1-based position in chats or by a unique
// ID prefix.
func resolveChat(chats []model.Chat, ref string) (model.Chat, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Chat{}, errors.New("no chat given")
	}

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(chats) {
			return model.Chat{}, fmt.Errorf("no chat number %d (have %d)", n, len(chats))
		}
		return chats[n-1], nil
	}

	var found []model.Chat
	for _, c := range chats {
		if c.ID == ref {
			return c, nil
		}
		if strings.HasPrefix(c.ID, ref) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return model.Chat{}, fmt.Errorf("no chat matches %q", ref)
	case 1:
		return found[0], nil
	default:
		return model.Chat{}, fmt.Errorf("%w: %q matches %d chats", errAmbiguous, ref, len(found))
	}
}

// =============================================================================
// IMAGES
// =============================================================================

// loadImage reads an image file and encodes it for a message. The MIME type
// is sniffed from the content; the engine decides whether it is accepted.
func loadImage(path string) (*model.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return &model.Image{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mime,
	}, nil
}

// =============================================================================
// LISTING
// =============================================================================

const (
	listTitleWidth = 40
	shortIDLength  = 8
)

// shortID returns the leading characters of an ID, enough to reference it.
func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// formatAge renders how long ago t was, coarsely.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// formatChatRow renders one line of a chat listing. Titles are padded by
// display width so wide characters keep the columns aligned.
func formatChatRow(n int, c model.Chat, active bool, now time.Time) string {
	marker := " "
	if active {
		marker = "*"
	}
	title := util.PadRight(util.TruncateWidth(c.Title, listTitleWidth), listTitleWidth)
	row := fmt.Sprintf("%s %3d  %s  %s  %s", marker, n, shortID(c.ID), title, formatAge(c.UpdatedAt, now))
	if c.Provider != "" {
		row += "  " + c.Provider
		if c.Model != "" {
			row += "/" + c.Model
		}
	}
	return row
}

// printChatList writes a numbered listing with the active chat marked.
func printChatList(w io.Writer, chats []model.Chat, activeID string, now time.Time) {
	for i, c := range chats {
		row := formatChatRow(i+1, c, c.ID == activeID, now)
		if c.ID == activeID {
			row = activeStyle.Render(row)
		}
		fmt.Fprintln(w, row)
	}
}
