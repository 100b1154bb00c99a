package logger

import (
	"bytes"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.Empty(t, DefaultConfig().Validate())
	require.Len(t, Config{Level: "chatty"}.Validate(), 1)
}

func TestEchoLogger(t *testing.T) {
	base := logrus.New()
	base.SetLevel(logrus.WarnLevel)
	var buf bytes.Buffer
	base.SetOutput(&buf)

	l := NewEchoLogger(base.WithField("component", "http"))
	require.Equal(t, log.WARN, l.Level())

	l.Info("dropped")
	require.Empty(t, buf.String())

	l.Warnj(log.JSON{"route": "/info"})
	require.Contains(t, buf.String(), `route`)
	require.Contains(t, buf.String(), "component=http")
}
