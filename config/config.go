package config

import (
	"fmt"
	"io/ioutil"
	"log/syslog"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/zrepl/yaml-config"
)

type Config struct {
	Global  *Global       `yaml:"global,optional,fromdefaults"`
	Connect ConnectEnum   `yaml:"connect"`
	Client  *ClientConfig `yaml:"client,optional,fromdefaults"`
	Job     *JobConfig    `yaml:"job,optional,fromdefaults"`
}

type Global struct {
	Logging    *LoggingOutletEnumList `yaml:"logging,optional,fromdefaults"`
	Monitoring []MonitoringEnum       `yaml:"monitoring,optional"`
}

type ClientConfig struct {
	Channels                      *ChannelList  `yaml:"channels,optional,fromdefaults"`
	GoOfflineOnFirstFailedAttempt bool          `yaml:"go_offline_on_first_failed_attempt,optional,default=true"`
	Codec                         string        `yaml:"codec,optional,default=msgpack"`
	MaxBytesPerCycle              int           `yaml:"max_bytes_per_cycle,optional,default=1048576"`
	ChunkSize                     int           `yaml:"chunk_size,optional,default=102400"`
	ReconnectDelay                time.Duration `yaml:"reconnect_delay,optional,positive,default=5s"`
	BackoffAfterTries             int           `yaml:"backoff_after_tries,optional,default=10"`
	BackoffDelay                  time.Duration `yaml:"backoff_delay,optional,positive,default=15s"`
	CloseWaitWarnInterval         time.Duration `yaml:"close_wait_warn_interval,optional,positive,default=5s"`
}

// ChannelList names the channels opened by the client.
// The empty string is the primary channel.
type ChannelList []string

func (l *ChannelList) SetDefault() {
	*l = ChannelList{""}
}

var _ yaml.Defaulter = &ChannelList{}

type JobConfig struct {
	Model string `yaml:"model,optional"`
	ID    string `yaml:"id,optional"`
	// defaults to the hostname
	Name string `yaml:"name,optional"`
}

func Default(i interface{}) {
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr {
		panic(v)
	}
	y := `{}`
	err := yaml.Unmarshal([]byte(y), v.Interface())
	if err != nil {
		panic(err)
	}
}

type ConnectEnum struct {
	Ret interface{}
}

type ConnectCommon struct {
	Type string `yaml:"type"`
}

type SSHConnect struct {
	ConnectCommon `yaml:",inline"`
	Host          string        `yaml:"host"`
	User          string        `yaml:"user,optional"`
	Port          uint16        `yaml:"port,optional,default=22"`
	IdentityFile  string        `yaml:"identity_file,optional"`
	SSHCommand    string        `yaml:"ssh_command,optional"`
	Options       []string      `yaml:"options,optional"`
	RemoteCommand string        `yaml:"remote_command,optional,default=stream"`
	DialTimeout   time.Duration `yaml:"dial_timeout,optional,positive,default=10s"`
}

type SSHNativeConnect struct {
	SSHConnect            `yaml:",inline"`
	KnownHostsFile        string `yaml:"known_hosts_file,optional"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,optional,default=false"`
}

type SSHStdinserverConnect struct {
	ConnectCommon `yaml:",inline"`
	Host          string        `yaml:"host"`
	User          string        `yaml:"user"`
	Port          uint16        `yaml:"port,optional,default=22"`
	IdentityFile  string        `yaml:"identity_file"`
	SSHCommand    string        `yaml:"ssh_command,optional"`
	Options       []string      `yaml:"options,optional"`
	DialTimeout   time.Duration `yaml:"dial_timeout,optional,positive,default=10s"`
}

type LoggingOutletEnumList []LoggingOutletEnum

func (l *LoggingOutletEnumList) SetDefault() {
	def := `
type: "stdout"
time: true
level: "warn"
format: "human"
`
	s := &StdoutLoggingOutlet{}
	err := yaml.UnmarshalStrict([]byte(def), s)
	if err != nil {
		panic(err)
	}
	*l = []LoggingOutletEnum{{Ret: s}}
}

var _ yaml.Defaulter = &LoggingOutletEnumList{}

type LoggingOutletEnum struct {
	Ret interface{}
}

type LoggingOutletCommon struct {
	Type   string `yaml:"type"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StdoutLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Time                bool `yaml:"time,default=true"`
	Color               bool `yaml:"color,default=true"`
}

type SyslogLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Facility            *SyslogFacility `yaml:"facility,optional,fromdefaults"`
	RetryInterval       time.Duration   `yaml:"retry_interval,positive,default=10s"`
}

type TCPLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Address             string               `yaml:"address"`
	Net                 string               `yaml:"net,default=tcp"`
	RetryInterval       time.Duration        `yaml:"retry_interval,positive,default=10s"`
	TLS                 *TCPLoggingOutletTLS `yaml:"tls,optional"`
}

type TCPLoggingOutletTLS struct {
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type SyslogFacility syslog.Priority

var syslogFacilities = map[string]syslog.Priority{
	"kern":     syslog.LOG_KERN,
	"user":     syslog.LOG_USER,
	"mail":     syslog.LOG_MAIL,
	"daemon":   syslog.LOG_DAEMON,
	"auth":     syslog.LOG_AUTH,
	"syslog":   syslog.LOG_SYSLOG,
	"lpr":      syslog.LOG_LPR,
	"news":     syslog.LOG_NEWS,
	"uucp":     syslog.LOG_UUCP,
	"cron":     syslog.LOG_CRON,
	"authpriv": syslog.LOG_AUTHPRIV,
	"ftp":      syslog.LOG_FTP,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

func (f *SyslogFacility) SetDefault() {
	*f = SyslogFacility(syslog.LOG_LOCAL0)
}

var _ yaml.Defaulter = (*SyslogFacility)(nil)

func (f *SyslogFacility) UnmarshalYAML(u func(interface{}, bool) error) error {
	var s string
	if err := u(&s, true); err != nil {
		return err
	}
	if s == "" {
		f.SetDefault()
		return nil
	}
	p, ok := syslogFacilities[s]
	if !ok {
		return &yaml.TypeError{Errors: []string{fmt.Sprintf("invalid syslog facility %q", s)}}
	}
	*f = SyslogFacility(p)
	return nil
}

type MonitoringEnum struct {
	Ret interface{}
}

type PrometheusMonitoring struct {
	Type   string `yaml:"type"`
	Listen string `yaml:"listen"`
}

func enumUnmarshal(u func(interface{}, bool) error, types map[string]interface{}) (interface{}, error) {
	var in struct {
		Type string
	}
	if err := u(&in, true); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, &yaml.TypeError{Errors: []string{"must specify type"}}
	}

	v, ok := types[in.Type]
	if !ok {
		return nil, &yaml.TypeError{Errors: []string{fmt.Sprintf("invalid type name %q", in.Type)}}
	}
	if err := u(v, false); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *ConnectEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"ssh":             &SSHConnect{},
		"ssh+native":      &SSHNativeConnect{},
		"ssh+stdinserver": &SSHStdinserverConnect{},
	})
	return
}

func (t *LoggingOutletEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"stdout": &StdoutLoggingOutlet{},
		"syslog": &SyslogLoggingOutlet{},
		"tcp":    &TCPLoggingOutlet{},
	})
	return
}

func (t *MonitoringEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"prometheus": &PrometheusMonitoring{},
	})
	return
}

// ConfigFileDefaultLocations are tried in order if no path is given.
// A leading ~ is the user's home directory.
var ConfigFileDefaultLocations = []string{
	"/etc/aetros/aetros.yml",
	"~/.aetros.yml",
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

func ParseConfig(path string) (i *Config, err error) {

	if path == "" {
		// Try default locations
		for _, l := range ConfigFileDefaultLocations {
			l = expandHome(l)
			stat, statErr := os.Stat(l)
			if statErr != nil {
				continue
			}
			if !stat.Mode().IsRegular() {
				err = errors.Errorf("file at default location is not a regular file: %s", l)
				return
			}
			path = l
			break
		}
		if path == "" {
			return nil, errors.Errorf("no config file found at default locations %v", ConfigFileDefaultLocations)
		}
	}

	var bytes []byte

	if bytes, err = ioutil.ReadFile(path); err != nil {
		return
	}

	return ParseConfigBytes(bytes)
}

func ParseConfigBytes(bytes []byte) (*Config, error) {
	var c *Config
	if err := yaml.UnmarshalStrict(bytes, &c); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("config is empty or only consists of comments")
	}
	if err := c.Client.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid 'client' section")
	}
	return c, nil
}

func (c *ClientConfig) validate() error {
	switch c.Codec {
	case "msgpack", "cbor":
	default:
		return errors.Errorf("codec must be 'msgpack' or 'cbor', got %q", c.Codec)
	}
	if c.MaxBytesPerCycle <= 0 {
		return errors.New("max_bytes_per_cycle must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("chunk_size must be positive")
	}
	if c.BackoffAfterTries < 0 {
		return errors.New("backoff_after_tries must not be negative")
	}
	if c.Channels == nil {
		c.Channels = &ChannelList{""}
	}
	seen := make(map[string]bool, len(*c.Channels))
	for _, ch := range *c.Channels {
		if seen[ch] {
			return errors.Errorf("duplicate channel %q", ch)
		}
		seen[ch] = true
	}
	if len(seen) == 0 {
		return errors.New("at least one channel is required")
	}
	return nil
}
