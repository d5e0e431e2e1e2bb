package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremtopic"
	topic := "loremtopic/switch/my_device/command"
	r := commandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "switch", "domain extract")
	assert.Equal(matches[0][2], "my_device", "object id extract")
}

func TestEntityCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremtopic"
	topic := "loremtopic/switch/my_device/state"
	r := commandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestEntityCommandParseRejectsDeepTopic(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremtopic"
	topic := "loremtopic/switch/a/b/command"
	r := commandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestEntityStateTopic(t *testing.T) {

	assert := assert.New(t)

	client := &MQTTClient{}
	client.cfg.BaseTopic = "hearthd"

	assert.Equal("hearthd/sensor/cpu_usage/state", client.EntityStateTopic("sensor.cpu_usage"))
	assert.Equal("hearthd/sensor/cpu_usage/attributes", client.EntityAttributesTopic("sensor.cpu_usage"))
	assert.Equal("hearthd/switch/relay_1/command", client.EntityCommandTopic("switch.relay_1"))
	assert.Equal("hearthd/bridge/state", client.BridgeStateTopic())
}
