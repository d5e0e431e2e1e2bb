package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("Hearthd")
	assert.NoError(err)
	assert.Equal("hearthd", topic, "topic is lowercased")

	_, err = CheckMQTTTopic("bad/topic")
	assert.Error(err)

	_, err = CheckMQTTTopic("")
	assert.Error(err)
}

func TestPlatformName(t *testing.T) {

	assert := assert.New(t)

	pc := PlatformConfig{Integration: "modbus"}
	assert.Equal("modbus", pc.PlatformName())

	pc.Name = "boiler"
	assert.Equal("boiler", pc.PlatformName())
}
