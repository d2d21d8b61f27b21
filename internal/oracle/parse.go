package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roadsight/holderd/internal/vision"
)

// detailKeywords mark a rationale that cites concrete visual evidence. A
// reply that names what it saw earns a small confidence boost over one that
// just asserts a class.
var detailKeywords = []string{
	"bolt", "bracket", "weld", "seam", "rust", "corrosion", "grain",
	"texture", "rivet", "galvaniz", "taper", "footing", "anchor",
}

const (
	detailBoost    = 1.1
	defaultDamping = 0.8
	shortDamping   = 0.9
	// shortReplyLen is the rationale length below which the reply is treated
	// as an unsupported guess.
	shortReplyLen = 20
)

// parseReply extracts a structured reply from the model's line-oriented
// answer. Material and Type are open vocabulary; the parser validates shape,
// not values. Replies missing any required line are rejected so the caller
// discards the region.
func (c *Client) parseReply(text string) (vision.Reply, error) {
	var reply vision.Reply
	haveConfidence := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "material":
			reply.Material = strings.ToLower(value)
		case "type":
			reply.Type = strings.ToLower(value)
		case "confidence":
			conf, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
			if err != nil {
				return vision.Reply{}, fmt.Errorf("oracle: parse confidence %q: %w", value, err)
			}
			if conf > 1 {
				// Some models answer in percent despite instructions.
				conf /= 100
			}
			if conf < 0 || conf > 1 {
				return vision.Reply{}, fmt.Errorf("oracle: confidence %v out of range", conf)
			}
			reply.Confidence = conf
			haveConfidence = true
		case "rationale", "reasoning":
			reply.Rationale = value
		}
	}

	if reply.Material == "" || reply.Type == "" || !haveConfidence {
		return vision.Reply{}, fmt.Errorf("oracle: malformed reply %q", text)
	}

	reply.Confidence = c.adjustConfidence(reply)
	return reply, nil
}

// adjustConfidence nudges the stated confidence based on how the reply was
// argued. Concrete visual evidence earns a boost; a reflexive default answer
// or a rationale too thin to check gets damped.
func (c *Client) adjustConfidence(reply vision.Reply) float64 {
	conf := reply.Confidence
	rationale := strings.ToLower(reply.Rationale)

	detailed := false
	for _, kw := range detailKeywords {
		if strings.Contains(rationale, kw) {
			detailed = true
			break
		}
	}

	switch {
	case detailed:
		conf *= detailBoost
	case reply.Material == strings.ToLower(c.defaults.Material) &&
		reply.Type == strings.ToLower(c.defaults.Type) &&
		conf >= 0.8:
		conf *= defaultDamping
	case len(rationale) < shortReplyLen:
		conf *= shortDamping
	}

	if conf > 1 {
		conf = 1
	}
	return conf
}
