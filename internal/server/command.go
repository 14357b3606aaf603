package server

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

// CommandKind names a chat command
type CommandKind string

const (
	CmdSend     CommandKind = "send"
	CmdQueue    CommandKind = "queue"
	CmdMine     CommandKind = "mine"
	CmdCancel   CommandKind = "cancel"
	CmdClear    CommandKind = "clear"
	CmdCheck    CommandKind = "check"
	CmdHelp     CommandKind = "help"
	CmdClearAll CommandKind = "clearall"
	CmdStart    CommandKind = "start"
	CmdStop     CommandKind = "stop"
	CmdRules    CommandKind = "rules"
	CmdDisable  CommandKind = "disable"
	CmdEnable   CommandKind = "enable"
	CmdWord     CommandKind = "word"
	CmdStats    CommandKind = "stats"
	CmdOverlay  CommandKind = "overlay"
)

var adminCommands = map[CommandKind]bool{
	CmdClearAll: true,
	CmdStart:    true,
	CmdStop:     true,
	CmdRules:    true,
	CmdDisable:  true,
	CmdEnable:   true,
	CmdWord:     true,
	CmdStats:    true,
	CmdOverlay:  true,
}

// AdminOnly reports whether k needs an admin sender
func (k CommandKind) AdminOnly() bool {
	return adminCommands[k]
}

const maxDelay = time.Hour

var (
	errEmptyCommand = errors.New("empty message")
	colorPattern    = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// Command is a parsed chat message
type Command struct {
	Kind CommandKind
	// Text is the danmaku for send, the text to test for check
	Text     string
	Priority int
	Delay    time.Duration
	Style    domain.Style
	// Args holds the remaining words for commands that take arguments
	Args []string
}

// ParseCommand turns a chat message into a Command. Text without a leading
// slash is a plain send.
func ParseCommand(input string) (*Command, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errEmptyCommand
	}
	if !strings.HasPrefix(input, "/") {
		return &Command{Kind: CmdSend, Text: input, Priority: domain.MinPriority, Style: domain.DefaultStyle()}, nil
	}

	name, rest := nextToken(input[1:])
	kind := CommandKind(strings.ToLower(name))

	switch kind {
	case CmdSend:
		return parseSend(rest)
	case CmdCheck:
		if rest == "" {
			return nil, fmt.Errorf("usage: /check <text>")
		}
		return &Command{Kind: kind, Text: rest}, nil
	case CmdCancel, CmdDisable, CmdEnable:
		args := strings.Fields(rest)
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: /%s <id>", kind)
		}
		return &Command{Kind: kind, Args: args}, nil
	case CmdWord:
		op, word := nextToken(rest)
		if (op != "add" && op != "del") || word == "" {
			return nil, fmt.Errorf("usage: /word add|del <word>")
		}
		return &Command{Kind: kind, Args: []string{op, word}}, nil
	case CmdOverlay:
		args := strings.Fields(rest)
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: /overlay pause|resume|clear|speed <slow|normal|fast>|opacity <0-1>")
		}
		return &Command{Kind: kind, Args: args}, nil
	case CmdQueue, CmdMine, CmdClear, CmdHelp, CmdClearAll, CmdStart, CmdStop, CmdRules, CmdStats:
		return &Command{Kind: kind, Args: strings.Fields(rest)}, nil
	}
	return nil, fmt.Errorf("unknown command /%s, try /help", name)
}

// parseSend reads the flags of /send. Flag parsing stops at the first word
// that is not a known flag, or after "--".
func parseSend(rest string) (*Command, error) {
	cmd := &Command{Kind: CmdSend, Priority: domain.MinPriority, Style: domain.DefaultStyle()}

	for {
		tok, after := nextToken(rest)
		if tok == "--" {
			rest = after
			break
		}
		if !isFlag(tok) {
			break
		}
		val, after := nextToken(after)
		if val == "" {
			return nil, fmt.Errorf("flag %s needs a value", tok)
		}
		if err := cmd.applyFlag(tok, val); err != nil {
			return nil, err
		}
		rest = after
	}

	cmd.Text = strings.TrimSpace(rest)
	if cmd.Text == "" {
		return nil, fmt.Errorf("usage: /send [-p 1-5] [-d secs] [-c #RRGGBB] [-pos top|bottom|scroll] [-s preset] <text>")
	}
	return cmd, nil
}

func isFlag(tok string) bool {
	switch tok {
	case "-p", "-d", "-c", "-pos", "-s":
		return true
	}
	return false
}

func (c *Command) applyFlag(flag, val string) error {
	switch flag {
	case "-p":
		p, err := strconv.Atoi(val)
		if err != nil || p < domain.MinPriority || p > domain.MaxPriority {
			return fmt.Errorf("priority must be %d-%d, got %q", domain.MinPriority, domain.MaxPriority, val)
		}
		c.Priority = p
	case "-d":
		secs, err := strconv.ParseFloat(val, 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("delay must be a non-negative number of seconds, got %q", val)
		}
		d := time.Duration(secs * float64(time.Second))
		if d > maxDelay {
			return fmt.Errorf("delay must be at most %v", maxDelay)
		}
		c.Delay = d
	case "-c":
		if !colorPattern.MatchString(val) {
			return fmt.Errorf("color must look like #RRGGBB, got %q", val)
		}
		c.Style.Color = strings.ToUpper(val)
	case "-pos":
		switch val {
		case "top", "bottom", "scroll":
			c.Style.Position = val
		default:
			return fmt.Errorf("position must be top, bottom or scroll, got %q", val)
		}
	case "-s":
		preset, ok := domain.PresetStyle(val)
		if !ok {
			return fmt.Errorf("unknown style preset %q", val)
		}
		c.Style = preset
	}
	return nil
}

// nextToken splits off the first whitespace-delimited word. rest keeps its
// inner spacing.
func nextToken(s string) (tok, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

// HelpText lists the commands available to a sender
func HelpText(admin bool) string {
	var b strings.Builder
	b.WriteString("Danmaku bot commands:\n")
	b.WriteString("<text> or /send [-p 1-5] [-d secs] [-c #RRGGBB] [-pos top|bottom|scroll] [-s preset] <text>\n")
	b.WriteString("/queue  queue overview\n")
	b.WriteString("/mine  your queued messages\n")
	b.WriteString("/cancel <id>  cancel one of your messages\n")
	b.WriteString("/clear  cancel all your pending messages\n")
	b.WriteString("/check <text>  test text against the filter\n")
	b.WriteString("Presets: normal, highlight, warning, success, error")
	if admin {
		b.WriteString("\n\nAdmin:\n")
		b.WriteString("/clearall  cancel every message\n")
		b.WriteString("/start, /stop  control delivery\n")
		b.WriteString("/rules  list filter rules\n")
		b.WriteString("/enable <id>, /disable <id>  toggle a rule\n")
		b.WriteString("/word add|del <word>  manage sensitive words\n")
		b.WriteString("/stats  filter statistics for the last 7 days\n")
		b.WriteString("/overlay pause|resume|clear|speed <s>|opacity <0-1>")
	}
	return b.String()
}
