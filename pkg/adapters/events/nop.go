package events

import (
	"context"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Event) error { return nil }
func (Nop) Close() error                                { return nil }

var _ ports.EventPublisher = Nop{}
