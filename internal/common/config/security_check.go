package config

import "go.uber.org/zap"

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure settings. Call this at startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}

// ProductionWarnings lists the insecure settings of the configuration
func (c *Config) ProductionWarnings() []string {
	var warnings []string
	if c.LDAP.SkipTLSVerify {
		warnings = append(warnings, "ldap.skip_tls_verify is enabled, directory certificates are not verified")
	}
	if !c.LDAP.Encrypted() {
		warnings = append(warnings, "directory connection is not encrypted, bind credentials travel in clear text")
		if c.LDAP.Type == DirectoryActiveDirectory && c.SSH.KnownHosts == "" {
			warnings = append(warnings, "ssh.known_hosts is empty, the password reset channel accepts any host key")
		}
	}
	if !c.FTP.UseTLS {
		warnings = append(warnings, "ftp.use_tls is disabled, HR extracts are downloaded in clear text")
	}
	return warnings
}
