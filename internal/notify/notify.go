// Package notify tells resource owners that the sweeper destroyed something.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/yairfalse/siivous/internal/config"
	"github.com/yairfalse/siivous/pkg/resource"
)

// Notice describes one completed destruction.
type Notice struct {
	Resource resource.Resource
	Op       resource.Op
	Reason   string
	RunID    string
	Time     time.Time
}

// Subject is the one-line summary of n.
func (n Notice) Subject() string {
	return fmt.Sprintf("[siivous] %s %s %s in %s", pastTense(n.Op), n.Resource.Kind, n.Resource.DisplayName(), n.Resource.Scope().ID())
}

// Body is the full message text.
func (n Notice) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "siivous %s the %s %q (%s) in %s.\n\n", pastTense(n.Op), n.Resource.Kind, n.Resource.DisplayName(), n.Resource.ID, n.Resource.Scope().ID())
	if n.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
	}
	if !n.Resource.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", n.Resource.CreatedAt.UTC().Format(time.RFC3339))
	}
	if n.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", n.RunID)
	}
	b.WriteString("\nTo keep a resource next time, put one of the configured safe words in its name")
	if n.Resource.Kind == resource.KindInstance {
		b.WriteString(" or enable termination protection")
	} else {
		b.WriteString(", description or tags")
	}
	b.WriteString(".\n")
	return b.String()
}

func pastTense(op resource.Op) string {
	switch op {
	case resource.OpStop:
		return "stopped"
	case resource.OpTerminate:
		return "terminated"
	case resource.OpDelete:
		return "deleted"
	}
	return string(op)
}

// Notifier delivers notices. Failures are reported to the caller, who logs
// them; they never change a sweep outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Nop discards every notice.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Notice) error { return nil }

// New builds the notifier selected by cfg. awsCfg is used by the ses and
// sns kinds; cfg.Region overrides its region.
func New(cfg config.NotifyConfig, awsCfg aws.Config) (Notifier, error) {
	if cfg.Region != "" {
		awsCfg = awsCfg.Copy()
		awsCfg.Region = cfg.Region
	}

	switch cfg.Kind {
	case "", "log":
		return NewLog(), nil
	case "none":
		return Nop{}, nil
	case "ses":
		return NewSES(sesv2.NewFromConfig(awsCfg), cfg.From, cfg.To), nil
	case "sns":
		return NewSNS(sns.NewFromConfig(awsCfg), cfg.TopicARN), nil
	}
	return nil, fmt.Errorf("unknown notifier kind %q", cfg.Kind)
}
