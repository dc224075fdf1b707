package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoRecipients is returned for a "to" field without a usable address.
var ErrNoRecipients = errors.New("recipients must not be empty")

// Recipients is the "to" field of a definition. The catalog may give either
// a single address or a list; both decode into the same value.
type Recipients struct {
	addrs []string
}

// SingleAddress returns Recipients holding one address.
func SingleAddress(addr string) Recipients {
	return Recipients{addrs: []string{addr}}
}

// AddressList returns Recipients holding addrs in order.
func AddressList(addrs ...string) Recipients {
	return Recipients{addrs: append([]string(nil), addrs...)}
}

// List returns the envelope recipients.
func (r Recipients) List() []string {
	return append([]string(nil), r.addrs...)
}

// Header returns the value for the To header.
func (r Recipients) Header() string {
	return strings.Join(r.addrs, ", ")
}

// Empty reports whether there is no address at all.
func (r Recipients) Empty() bool { return len(r.addrs) == 0 }

func newRecipients(addrs []string) (Recipients, error) {
	if len(addrs) == 0 {
		return Recipients{}, ErrNoRecipients
	}
	for i, a := range addrs {
		if strings.TrimSpace(a) == "" {
			return Recipients{}, fmt.Errorf("address %d: %w", i, ErrNoRecipients)
		}
	}
	return AddressList(addrs...), nil
}

func (r *Recipients) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return ErrNoRecipients
	}

	var addrs []string
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		addrs = []string{one}
	} else if err := json.Unmarshal(data, &addrs); err != nil {
		return fmt.Errorf("recipients must be a string or a list of strings: %w", err)
	}

	out, err := newRecipients(addrs)
	if err != nil {
		return err
	}
	*r = out
	return nil
}

func (r *Recipients) UnmarshalYAML(node *yaml.Node) error {
	var addrs []string
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			return fmt.Errorf("line %d: %w", node.Line, ErrNoRecipients)
		}
		var one string
		if err := node.Decode(&one); err != nil {
			return err
		}
		addrs = []string{one}
	case yaml.SequenceNode:
		if err := node.Decode(&addrs); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: recipients must be a string or a list of strings", node.Line)
	}

	out, err := newRecipients(addrs)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = out
	return nil
}
