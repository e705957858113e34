// Package config loads usermgrd's settings via viper: a config file
// (if present) overlaid with USERMGRD_*-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting usermgrd and its satellite daemons need.
type Config struct {
	Socket      string `mapstructure:"socket"`
	SocketUser  string `mapstructure:"socket_user"`
	SocketGroup string `mapstructure:"socket_group"`
	SocketMode  uint32 `mapstructure:"socket_mode"`

	MinUID int `mapstructure:"min_uid"`
	MaxUID int `mapstructure:"max_uid"`
	MinGID int `mapstructure:"min_gid"`
	MaxGID int `mapstructure:"max_gid"`

	LDAPServer       string   `mapstructure:"ldap_server"`
	LDAPUser         string   `mapstructure:"ldap_user"`
	LDAPPassword     string   `mapstructure:"ldap_password"`
	LDAPBasePeople   string   `mapstructure:"ldap_base_people"`
	LDAPBaseGroup    string   `mapstructure:"ldap_base_group"`
	LDAPExtraClasses []string `mapstructure:"ldap_extra_classes"`

	KerberosUser   string        `mapstructure:"kerberos_user"`
	KerberosKeytab string        `mapstructure:"kerberos_keytab"`
	KerberosExpire time.Duration `mapstructure:"kerberos_expire"`

	NscdflushdSocket string `mapstructure:"nscdflushd_socket"`
	MkhomedirdSocket string `mapstructure:"mkhomedird_socket"`

	HomeTemplate        string `mapstructure:"home_template"`
	AuthorizationCreate string `mapstructure:"authorization_create"`

	// Directories is only meaningful to the mkhomedird daemon: a map of
	// path template (may contain "{user}") to its handling rules.
	Directories map[string]DirectoryRule `mapstructure:"directories"`
}

// DirectoryRule describes how mkhomedird should treat one managed path.
type DirectoryRule struct {
	// Create is either "false" (don't create), "true" (create empty),
	// or a skeleton directory path to copy from.
	Create      string `mapstructure:"create"`
	Delete      bool   `mapstructure:"delete"`
	DeleteGroup bool   `mapstructure:"delete_group"`
}

// Load reads configuration from path (if non-empty; the file must then
// exist and parse, or Load returns an error) and from
// USERMGRD_*-prefixed environment variables, which always take
// precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("usermgrd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("socket", "/run/usermgrd/usermgrd.sock")
	v.SetDefault("socket_mode", 0660)
	v.SetDefault("min_uid", 10000)
	v.SetDefault("max_uid", 2000000)
	v.SetDefault("min_gid", 10000)
	v.SetDefault("max_gid", 2000000)
	v.SetDefault("home_template", "/home/{user}")
	v.SetDefault("kerberos_expire", "2160h") // 90 days
	v.SetDefault("nscdflushd_socket", "/run/usermgrd/nscdflushd.sock")
	v.SetDefault("mkhomedird_socket", "/run/usermgrd/mkhomedird.sock")
}

func (c *Config) validate() error {
	if c.LDAPServer == "" {
		return fmt.Errorf("config: ldap_server is required")
	}
	if c.LDAPBasePeople == "" || c.LDAPBaseGroup == "" {
		return fmt.Errorf("config: ldap_base_people and ldap_base_group are required")
	}
	if c.MinUID >= c.MaxUID {
		return fmt.Errorf("config: min_uid must be less than max_uid")
	}
	if c.MinGID >= c.MaxGID {
		return fmt.Errorf("config: min_gid must be less than max_gid")
	}
	if c.AuthorizationCreate == "" {
		return fmt.Errorf("config: authorization_create is required")
	}
	return nil
}
