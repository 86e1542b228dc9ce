package gate

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix namespaces the gate's NATS subjects.
const DefaultSubjectPrefix = "triaged"

// NATSGate routes approval traffic over NATS. Alerts publish to
// <prefix>.alerts.<thread_id>; decisions arrive on
// <prefix>.decisions.<thread_id> with payload "authorize" or "deny".
type NATSGate struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSGate connects to the NATS server at url.
func NewNATSGate(url, prefix string) (*NATSGate, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	conn, err := nats.Connect(url, nats.Name("triaged-gate"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSGate{conn: conn, prefix: prefix}, nil
}

// Close drains the connection.
func (g *NATSGate) Close() {
	if g.conn != nil {
		g.conn.Close()
	}
}

func (g *NATSGate) alertSubject(threadID string) string {
	return g.prefix + ".alerts." + threadID
}

func (g *NATSGate) decisionSubject(threadID string) string {
	return g.prefix + ".decisions." + threadID
}

// Notify publishes the approval prompt.
func (g *NATSGate) Notify(_ context.Context, threadID, text string) error {
	if err := g.conn.Publish(g.alertSubject(threadID), []byte(text)); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return g.conn.Flush()
}

// Await subscribes to the thread's decision subject and blocks for the
// first message. Subscription or delivery failure resolves to deny.
func (g *NATSGate) Await(ctx context.Context, threadID string) (Decision, error) {
	sub, err := g.conn.SubscribeSync(g.decisionSubject(threadID))
	if err != nil {
		return DecisionDeny, fmt.Errorf("subscribe for decision: %w", err)
	}
	defer sub.Unsubscribe()

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return DecisionDeny, err
	}
	return ParseDecision(string(msg.Data)), nil
}

// SubmitDecision publishes an operator decision. Used by the approve/deny
// CLI commands on the operator's side of the channel.
func (g *NATSGate) SubmitDecision(threadID string, d Decision) error {
	if err := g.conn.Publish(g.decisionSubject(threadID), []byte(d)); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return g.conn.Flush()
}
