package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	allowed := []string{"-c", "--config"}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate value", []string{"-c", "conf.json", "-w", "8"}, []string{"-c", "conf.json"}},
		{"equals form", []string{"--config=alt.json", "-a", ":8080"}, []string{"--config=alt.json"}},
		{"order preserved", []string{"--config=a.json", "-c", "b.json", "-q", "10"}, []string{"--config=a.json", "-c", "b.json"}},
		{"unknown ignored", []string{"-x", "1", "--y=2", "positional"}, []string{}},
		{"trailing flag without value", []string{"-c"}, []string{"-c"}},
		{"next token is a flag", []string{"-c", "-notvalue"}, []string{"-c"}},
		{"empty", []string{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, allowed))
		})
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"-c", "/etc/gophzip.json"}, "/etc/gophzip.json"},
		{"long", []string{"-config", "/etc/long.json"}, "/etc/long.json"},
		{"double dash equals", []string{"--config=/etc/dd.json", "-w", "2"}, "/etc/dd.json"},
		{"mixed with other flags", []string{"-a", ":9000", "-c", "x.json", "-d", "postgres://"}, "x.json"},
		{"absent", []string{"-x", "1"}, ""},
		{"last wins", []string{"-c", "1.json", "-config", "2.json"}, "2.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}
