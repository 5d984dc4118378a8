package discovery

import (
	"context"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
)

// Score counts, for each child of node, how many of its rules match at least
// one of outputs. A rule scores once no matter how often it matches.
func Score(node *registry.TypeNode, outputs []string) map[registry.TypeID]int {
	scores := make(map[registry.TypeID]int, len(node.Children))
	for _, child := range node.Children {
		scores[child] = 0
		for _, rule := range node.MatchRules[child] {
			for _, out := range outputs {
				if rule.MatchString(out) {
					scores[child]++
					break
				}
			}
		}
	}
	return scores
}

// SelectChild returns the child with the strictly highest score, the
// earliest declared one on a tie. A best score of zero selects nothing.
func SelectChild(node *registry.TypeNode, scores map[registry.TypeID]int) (registry.TypeID, bool) {
	var best registry.TypeID
	bestScore := 0
	for _, child := range node.Children {
		if s := scores[child]; s > bestScore {
			best, bestScore = child, s
		}
	}
	return best, bestScore > 0
}

// Classifier walks the type tree, one identify pass per level.
type Classifier struct {
	registry *registry.Registry
	sessions *SessionEstablisher
	config   Config
	recorder Recorder
	logger   *logging.Logger
}

// Classify refines dev starting at node and returns the leaf it settles on.
// Each level that selects a child sets dev.Type before descending. When no
// child scores at some level it returns nil; dev.Type keeps the last match.
func (c *Classifier) Classify(ctx context.Context, dev *device.Device, node *registry.TypeNode) (*registry.TypeNode, error) {
	if node.IsLeaf() {
		return node, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs, err := c.identify(ctx, dev, node)
	if err != nil {
		return nil, err
	}

	scores := Score(node, outputs)
	winner, ok := SelectChild(node, scores)
	if !ok {
		c.logger.InfoDevice("No child type matched", dev.IP, "type", node.ID)
		return nil, nil
	}

	child, _ := c.registry.Get(winner)
	dev.Type = child.ID
	c.recorder.Classified(child.ID)
	c.logger.Debug("Device type refined", "ip", dev.IP, "from", node.ID, "to", child.ID, "score", scores[winner])

	return c.Classify(ctx, dev, child)
}

// identify runs node's identify commands in one session. Failed commands
// contribute empty output.
func (c *Classifier) identify(ctx context.Context, dev *device.Device, node *registry.TypeNode) ([]string, error) {
	sess, err := c.sessions.Open(ctx, dev)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			c.logger.Debug("Disconnect failed", "ip", dev.IP, "error", err)
		}
	}()

	outputs := make([]string, 0, len(node.IdentifyCommands))
	for _, cmd := range node.IdentifyCommands {
		out, err := sess.Exec(cmd, c.config.CommandTimeout)
		if err != nil {
			c.recorder.CommandFailed(node.ID)
			c.logger.Debug("Identify command failed", "ip", dev.IP, "command", cmd, "error", err)
			out = ""
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}
