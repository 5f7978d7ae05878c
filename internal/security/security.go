// Package security validates paths, commands, and credentials before any
// remote-facing operation. A rejection here never reaches the network.
package security

import (
	"fmt"
	"net"
	"path"
	"regexp"
	"strings"
)

// Directories that must never be read, listed, or downloaded. Entries may be
// plain prefixes or glob patterns (matched against the cleaned path and each
// of its ancestors).
var deniedPaths = []string{
	"/etc/shadow",
	"/etc/passwd",
	"/etc/sudoers",
	"/etc/ssh",
	"/etc/ssl/private",
	"/root",
	"/home",
	"/boot",
	"/proc",
	"/sys",
	"/dev",
	"/var/lib/mysql",
	"/home/*/.ssh",
}

// Substrings that make a path suspect regardless of where they appear.
var suspiciousPathTokens = []string{
	"../", "/./", "*", "?", "|", ">", "<", ";", "&", "$", "`", "\\",
}

// Commands that are rejected outright wherever they appear as a word.
var deniedCommands = []string{
	"rm", "mv", "cp", "chmod", "chown", "dd", "mkfs", "mount", "umount",
	"sudo", "su", "reboot", "shutdown", "wget", "curl", "nc",
}

// Metacharacter sequences that turn a command into more than one command.
var deniedCommandTokens = []string{
	";", "&&", "||", "`", "$(", ">>", ">", "<<", "<", "|", "&", "\\", "\"", "'",
}

// Gate validates paths, commands, and credentials.
type Gate struct {
	deniedWords    []*regexp.Regexp
	secretPatterns []*regexp.Regexp
	hostnameRE     *regexp.Regexp
	plainTokenRE   *regexp.Regexp
}

// NewGate compiles the denylists and returns a ready gate.
func NewGate() *Gate {
	g := &Gate{
		hostnameRE:   regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`),
		plainTokenRE: regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`),
	}
	for _, cmd := range deniedCommands {
		g.deniedWords = append(g.deniedWords, regexp.MustCompile(`\b`+regexp.QuoteMeta(cmd)+`\b`))
	}
	for _, key := range []string{"password", "passwd", "secret", "token"} {
		g.secretPatterns = append(g.secretPatterns, regexp.MustCompile(`(?i)\b`+key+`=[^,\s]+`))
	}
	return g
}

// ValidateCredentials checks that a credential set is usable before it is
// ever handed to the session pool. The host may be an IPv4 literal or a
// hostname; the port must be in [1, 65535]; username and secret must be
// non-empty.
func (g *Gate) ValidateCredentials(host string, port int, username, secret string) error {
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if secret == "" {
		return fmt.Errorf("secret is required")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", port)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return fmt.Errorf("host %q is not an IPv4 address", host)
		}
		return nil
	}
	if !g.hostnameRE.MatchString(host) {
		return fmt.Errorf("host %q is not a valid hostname", host)
	}
	return nil
}

// ValidatePath rejects non-absolute paths, paths under sensitive
// directories, and paths carrying traversal or shell metacharacters.
func (g *Gate) ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path is empty")
	}
	for _, tok := range suspiciousPathTokens {
		if strings.Contains(p, tok) {
			return fmt.Errorf("path %q contains forbidden sequence %q", p, tok)
		}
	}

	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		return fmt.Errorf("path %q is not absolute", p)
	}

	for _, denied := range deniedPaths {
		if strings.ContainsAny(denied, "*?[") {
			if matchesGlobOrAncestor(denied, cleaned) {
				return fmt.Errorf("path %q falls under protected location %q", p, denied)
			}
			continue
		}
		if cleaned == denied || strings.HasPrefix(cleaned, denied+"/") {
			return fmt.Errorf("path %q falls under protected location %q", p, denied)
		}
	}
	return nil
}

// matchesGlobOrAncestor reports whether the cleaned path, or any of its
// ancestor directories, matches the glob pattern. /home/bob/.ssh/key is
// blocked by /home/*/.ssh even though the full path has one extra segment.
func matchesGlobOrAncestor(pattern, cleaned string) bool {
	for p := cleaned; p != "/" && p != "."; p = path.Dir(p) {
		if ok, err := path.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}

// SanitizeCommand rejects commands containing denylisted words or shell
// metacharacters, and otherwise returns the command with every argument
// token shell-quoted. A rejected command yields an error, never a
// partially sanitized string.
func (g *Gate) SanitizeCommand(cmd string) (string, error) {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return "", fmt.Errorf("command is empty")
	}
	for _, tok := range deniedCommandTokens {
		if strings.Contains(trimmed, tok) {
			return "", fmt.Errorf("command contains forbidden sequence %q", tok)
		}
	}
	for i, re := range g.deniedWords {
		if re.MatchString(trimmed) {
			return "", fmt.Errorf("command contains forbidden word %q", deniedCommands[i])
		}
	}

	parts := strings.Fields(trimmed)
	quoted := make([]string, len(parts))
	quoted[0] = parts[0]
	for i := 1; i < len(parts); i++ {
		quoted[i] = g.QuoteArg(parts[i])
	}
	return strings.Join(quoted, " "), nil
}

// QuoteArg shell-quotes a single argument token using POSIX single-quote
// rules. Tokens made only of safe characters pass through unchanged.
func (g *Gate) QuoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if g.plainTokenRE.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// MaskSecrets replaces the value of password/passwd/secret/token key=value
// pairs with a fixed mask. Used for safe logging only.
func (g *Gate) MaskSecrets(text string) string {
	masked := text
	for _, re := range g.secretPatterns {
		masked = re.ReplaceAllStringFunc(masked, func(m string) string {
			eq := strings.IndexByte(m, '=')
			return m[:eq+1] + "******"
		})
	}
	return masked
}
