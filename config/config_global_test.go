package config

import (
	"fmt"
	"log/syslog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zrepl/yaml-config"
)

const minimalConnect = `
connect:
  type: ssh
  host: trainer.example.com
`

func testValidGlobalSection(t *testing.T, s string) *Config {
	_, err := ParseConfigBytes([]byte(minimalConnect))
	require.NoError(t, err)
	return testValidConfig(t, s+minimalConnect)
}

func TestOutletTypes(t *testing.T) {
	conf := testValidGlobalSection(t, `
global:
  logging:
  - type: stdout
    level: debug
    format: human
  - type: syslog
    level: info
    retry_interval: 20s
    format: human
  - type: tcp
    level: debug
    format: json
    address: logserver.example.com:1234
  - type: tcp
    level: debug
    format: json
    address: encryptedlogserver.example.com:1234
    retry_interval: 20s
    tls:
      ca: /etc/aetros/log/ca.crt
      cert: /etc/aetros/log/cert.pem
      key: /etc/aetros/log/key.pem
`)
	assert.Equal(t, 4, len(*conf.Global.Logging))
	assert.NotNil(t, (*conf.Global.Logging)[3].Ret.(*TCPLoggingOutlet).TLS)
	assert.Equal(t, "tcp", (*conf.Global.Logging)[2].Ret.(*TCPLoggingOutlet).Net)
}

func TestDefaultLoggingOutlet(t *testing.T) {
	conf := testValidGlobalSection(t, "")
	assert.Equal(t, 1, len(*conf.Global.Logging))
	o := (*conf.Global.Logging)[0].Ret.(*StdoutLoggingOutlet)
	assert.Equal(t, "warn", o.Level)
	assert.Equal(t, "human", o.Format)
}

func TestPrometheusMonitoring(t *testing.T) {
	conf := testValidGlobalSection(t, `
global:
  monitoring:
    - type: prometheus
      listen: ':9091'
`)
	assert.Equal(t, ":9091", conf.Global.Monitoring[0].Ret.(*PrometheusMonitoring).Listen)
}

func TestSyslogLoggingOutletFacility(t *testing.T) {
	type SyslogFacilityPriority struct {
		Facility string
		Priority syslog.Priority
	}
	syslogFacilitiesPriorities := []SyslogFacilityPriority{
		{"kern", syslog.LOG_KERN}, {"daemon", syslog.LOG_DAEMON}, {"auth", syslog.LOG_AUTH},
		{"syslog", syslog.LOG_SYSLOG}, {"cron", syslog.LOG_CRON}, {"authpriv", syslog.LOG_AUTHPRIV},
		{"local0", syslog.LOG_LOCAL0}, {"local3", syslog.LOG_LOCAL3}, {"local7", syslog.LOG_LOCAL7},
	}

	for _, sFP := range syslogFacilitiesPriorities {
		logcfg := fmt.Sprintf(`
global:
  logging:
  - type: syslog
    level: info
    format: human
    facility: %s
`, sFP.Facility)
		conf := testValidGlobalSection(t, logcfg)
		assert.Equal(t, 1, len(*conf.Global.Logging))
		assert.True(t, SyslogFacility(sFP.Priority) == *(*conf.Global.Logging)[0].Ret.(*SyslogLoggingOutlet).Facility)
	}

	_, err := testConfig(t, `
global:
  logging:
  - type: syslog
    level: info
    format: human
    facility: nonexistent
`+minimalConnect)
	assert.Error(t, err)
}

func TestLoggingOutletEnumList_SetDefaults(t *testing.T) {
	e := &LoggingOutletEnumList{}
	var i yaml.Defaulter = e
	require.NotPanics(t, func() {
		i.SetDefault()
		assert.Equal(t, "warn", (*e)[0].Ret.(*StdoutLoggingOutlet).Level)
	})
}

func TestSyslogFacility_SetDefault(t *testing.T) {
	var f SyslogFacility
	f.SetDefault()
	assert.Equal(t, SyslogFacility(syslog.LOG_LOCAL0), f)
}
