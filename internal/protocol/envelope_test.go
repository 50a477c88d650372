package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/massgravity/internal/protocol"
)

func TestEncode_WrapsPayload(t *testing.T) {
	data, err := protocol.Encode(protocol.EventBattleRequestSent, protocol.BattleRequestSent{TargetID: 3, TargetName: "Bob"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "battle_request_sent", raw["type"])
	payload := raw["payload"].(map[string]any)
	assert.Equal(t, "Bob", payload["target_name"])
	assert.EqualValues(t, 3, payload["target_id"])
}

func TestEncode_NilPayloadOmitted(t *testing.T) {
	data, err := protocol.Encode(protocol.EventRequestUpdate, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"request_update"}`, string(data))
}

func TestDecode_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"not json":     `{{`,
		"missing type": `{"payload":{}}`,
		"array":        `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(in))
			assert.ErrorIs(t, err, protocol.ErrMalformed)
		})
	}
}

func TestDecodePayload_AbsentIsEmpty(t *testing.T) {
	env, err := protocol.Decode([]byte(`{"type":"request_battle"}`))
	require.NoError(t, err)
	var p protocol.RequestBattle
	require.NoError(t, env.DecodePayload(&p))
	assert.ErrorIs(t, p.Validate(), protocol.ErrMalformed)
}

func TestDecodePayload_WrongShape(t *testing.T) {
	env, err := protocol.Decode([]byte(`{"type":"request_battle","payload":{"target_id":"abc"}}`))
	require.NoError(t, err)
	var p protocol.RequestBattle
	assert.ErrorIs(t, env.DecodePayload(&p), protocol.ErrMalformed)
}

func TestShipAttack_DefaultDamage(t *testing.T) {
	env, err := protocol.Decode([]byte(`{"type":"ship_attack","payload":{"battle_room":"battle_1_2","attacker_id":"a","target_id":"b"}}`))
	require.NoError(t, err)
	var p protocol.ShipAttack
	require.NoError(t, env.DecodePayload(&p))
	require.NoError(t, p.Validate())
	assert.Equal(t, 1.0, p.DamageOrDefault())

	dmg := 7.5
	p.Damage = &dmg
	assert.Equal(t, 7.5, p.DamageOrDefault())
}

func TestValidate_RequiredFields(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"move without position": protocol.ShipMove{BattleRoom: "r", ShipID: "s"},
		"attack without target": protocol.ShipAttack{BattleRoom: "r", AttackerID: "a"},
		"patrol without points": protocol.ShipPatrol{BattleRoom: "r", ShipID: "s"},
		"end without room":      protocol.EndBattle{},
		"ready without room":    protocol.RoomRef{},
		"cancel without peer":   protocol.OpponentRef{},
		"accept without peer":   protocol.BattleResponse{},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, v.Validate(), protocol.ErrMalformed)
		})
	}
}
