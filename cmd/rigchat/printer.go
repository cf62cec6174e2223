// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/model"
)

// printer renders engine events as terminal output. Replies stream to out;
// notices and errors go to errOut.
type printer struct {
	out    io.Writer
	errOut io.Writer

	// labels prefixes each reply with the speaker.
	labels bool

	mu       sync.Mutex
	activeID string
	errors   int
	streamed bool
}

// attach subscribes the printer to eng and returns a function that
// unsubscribes it.
func (p *printer) attach(eng *engine.Engine) func() {
	if active, ok := eng.ActiveChat(); ok {
		p.activeID = active.ID
	}

	subs := map[events.Name]events.ListenerID{
		events.Message:            eng.On(events.Message, p.onMessage),
		events.Chunk:              eng.On(events.Chunk, p.onChunk),
		events.StreamEnd:          eng.On(events.StreamEnd, p.onStreamEnd),
		events.MessageRemoved:     eng.On(events.MessageRemoved, p.onRemoved),
		events.ActiveChatSwitched: eng.On(events.ActiveChatSwitched, p.onSwitched),
		events.Error:              eng.On(events.Error, p.onError),
		events.Warning:            eng.On(events.Warning, p.onNotice),
		events.Success:            eng.On(events.Success, p.onNotice),
	}
	return func() {
		for name, id := range subs {
			eng.Off(name, id)
		}
	}
}

// errorCount returns how many error events were printed.
func (p *printer) errorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

func (p *printer) onMessage(e events.Event) {
	pl := e.Payload.(events.MessagePayload)
	if pl.Message.Role != model.RoleModel || !pl.Message.IsPlaceholder() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamed = false
	if !p.labels {
		return
	}
	fmt.Fprint(p.out, assistantStyle.Render(model.RoleModel.DisplayName()+":")+" ")
}

func (p *printer) onChunk(e events.Event) {
	pl := e.Payload.(events.ChunkPayload)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamed = true
	fmt.Fprint(p.out, pl.Text)
}

func (p *printer) onStreamEnd(events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
}

func (p *printer) onRemoved(events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamed {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintln(p.out, dimStyle.Render("[reply discarded]"))
}

func (p *printer) onSwitched(e events.Event) {
	pl := e.Payload.(events.ActiveChatPayload)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl.Chat.ID == p.activeID {
		return
	}
	p.activeID = pl.Chat.ID
	fmt.Fprintln(p.errOut, dimStyle.Render(fmt.Sprintf("-- %s (%s) --", pl.Chat.Title, shortID(pl.Chat.ID))))
}

func (p *printer) onError(e events.Event) {
	pl := e.Payload.(events.ErrorPayload)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	fmt.Fprintf(p.errOut, "%s %s\n", errorStyle.Render("[Error]"), pl.Message)
}

func (p *printer) onNotice(e events.Event) {
	pl := e.Payload.(events.NoticePayload)
	style := successStyle
	if e.Name == events.Warning {
		style = warningStyle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.errOut, style.Render(pl.Message))
}
