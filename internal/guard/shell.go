package guard

import (
	"regexp"
)

// shellDenyPatterns contains regex patterns for dangerous shell commands.
// A match rejects the command; anything unmatched passes through.
var shellDenyPatterns = []string{
	// Destructive filesystem operations
	`\brm\s+(-\w+\s+)*-[a-z]*r[a-z]*f\b`,
	`\brm\s+(-\w+\s+)*[/~]`,
	`\bmkfs\b`,
	`\bdd\s+if=`,
	`(?i)\bformat\s+[a-z]:`,
	`(?i)\bdel\s+/s\s+/q\b`,
	// Fork bomb
	`:\(\)\s*\{`,
	// Credential exfiltration
	`\bcat\b[^|;&]*\.(env|pem|key|secret|token|credential)\b`,
	`\b(curl|wget)\b[^|;&]*169\.254\.169\.254`,
	`\b(curl|wget)\b[^|;&]*metadata\.google\.internal`,
	// Listeners and tunnels
	`\b(nc|ncat|netcat)\b[^|;&]*\s-l`,
	`(?i)\bsocat\b[^|;&]*listen`,
	`\bssh\b[^|;&]*\s-R\s`,
	// Privilege escalation
	`\bchmod\b[^|;&]*\+s\b`,
	`\bchmod\b[^|;&]*\b[ug]\+s\b`,
	`\bchmod\s+[0-7]*[4267][0-7]{3}\b`,
	`\bchown\b[^|;&]*\broot\b`,
	// Secret environment exfiltration
	`(?i)\bexport\b[^|;&]*_(KEY|SECRET|TOKEN|PASSWORD)\b`,
	// Process and device poking
	`/proc/self`,
	`/dev/(tcp|udp)/`,
	// Pipe-to-shell
	`\bbase64\b[^|;&]*\|\s*(sh|bash|zsh)\b`,
	`\b(curl|wget)\b[^|;&]*\|\s*(sh|bash|python\d?|eval)\b`,
	// Windows persistence and account manipulation
	`(?i)\breg\s+(add|delete)\b`,
	`(?i)\bnet\s+(user|localgroup)\b`,
	`(?i)\bpowershell\b[^|;&]*\s-enc\b`,
}

var compiledShellDeny []*regexp.Regexp

func init() {
	for _, pattern := range shellDenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiledShellDeny = append(compiledShellDeny, re)
		}
	}
}

// ValidateShellCommand rejects commands matching any deny pattern.
func ValidateShellCommand(command string) error {
	for _, re := range compiledShellDeny {
		if re.MatchString(command) {
			return Securityf("command blocked by security filter: matches %q", re.String())
		}
	}
	return nil
}
