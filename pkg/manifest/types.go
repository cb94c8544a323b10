package manifest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// YesNo is a boolean that also accepts the spellings installer
// authors tend to use: "yes"/"no", "true"/"false" and 1/0.
type YesNo bool

func (b YesNo) String() string {
	if b {
		return "yes"
	}
	return "no"
}

func (b *YesNo) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(raw) {
	case "yes", "true", "1", "y", "on":
		*b = true
	case "no", "false", "0", "n", "off", "":
		*b = false
	default:
		return errors.Errorf("%s is not a yes/no value", raw)
	}
	return nil
}

func (b YesNo) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// Token is a scalar given either as a JSON number or a string. The
// text is kept as written.
type Token string

func (t *Token) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Token(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Errorf("%s is neither a number nor a string", data)
	}
	*t = Token(n.String())
	return nil
}

func (t Token) String() string { return string(t) }

func (t Token) Int() (int, error) {
	n, err := strconv.Atoi(string(t))
	if err != nil {
		return 0, errors.Errorf("%q is not an integer", string(t))
	}
	return n, nil
}

// Condition is a custom launch condition. In manifests it is written
// as [message, expression] or [message, expression, level].
type Condition struct {
	Message    string
	Expression string
	Level      Token
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var parts []Token
	if err := json.Unmarshal(data, &parts); err == nil {
		if len(parts) < 2 || len(parts) > 3 {
			return errors.Errorf("conditions are [message, expression, level?], got %d items", len(parts))
		}
		c.Message, c.Expression = string(parts[0]), string(parts[1])
		if len(parts) == 3 {
			c.Level = parts[2]
		}
		return nil
	}

	var obj struct {
		Message   string
		Condition string
		Level     Token
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "parsing condition")
	}
	c.Message, c.Expression, c.Level = obj.Message, obj.Condition, obj.Level
	return nil
}

// Association registers a file extension with a shortcut's target.
type Association struct {
	Extension   string
	Description string
	MIME        string
	IconIndex   Token
	Edit        YesNo
}

type Shortcut struct {
	Name        string
	Description string
	Target      string // relative to _SourceDir

	Open     []Association
	OpenWith []string // extensions offering this program in "Open with"
	EditWith []string // extensions gaining an "Edit with" verb
}

// Service installs and controls a Windows service backed by one of the
// packaged files.
type Service struct {
	File        string // matched against the end of packaged file paths
	Name        string
	DisplayName string
	Description string
	Arguments   []string
	Start       string // auto, demand or disabled
}
