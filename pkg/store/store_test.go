package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientReply(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"LOADING Redis is loading the dataset in memory", true},
		{"BUSY Redis is busy running a script.", true},
		{"TRYAGAIN Multiple keys request during rehashing of slot", true},
		{"CLUSTERDOWN Hash slot not served", true},
		{"READONLY You can't write against a read only replica.", true},
		{"MASTERDOWN Link with MASTER is down", true},
		{"MISCONF Redis is configured to save RDB snapshots", true},
		{"NOREPLICAS Not enough good replicas to write.", true},
		{"LOADING", true},
		{"NOSCRIPT No matching script. Please use EVAL.", false},
		{"ERR Error compiling script (new function): user_script:1: syntax error", false},
		{"ERR user_script:1: Script attempted to access nonexistent global variable", false},
		{"WRONGTYPE Operation against a key holding the wrong kind of value", false},
		{"BUSYKEY Target key name already exists.", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientReply(tt.reply), tt.reply)
	}
}

func TestRefFor(t *testing.T) {
	assert.Equal(t, ScriptRef("e0e1f9fabfc9d4800c877a703b823ac0578ff8db"), RefFor("return 1"))
}
