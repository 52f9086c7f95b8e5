package bot

import (
	"bytes"
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
)

func TestDryRunSink(t *testing.T) {
	var buf bytes.Buffer
	sink := newDryRunSink(&buf)
	p := delivery.Payload{Content: "Map Berlin started on S1", Embed: &discordgo.MessageEmbed{Title: "BF1942 Map Alert!"}}

	out := sink.SendDirectMessage(context.Background(), "42", p)
	sink.SendChannelMessage(context.Background(), "C1", p)

	assert.Equal(t, delivery.Transient, out.Status)
	assert.ErrorIs(t, out.Err, delivery.ErrNotDispatched)
	assert.Contains(t, buf.String(), "--- dm 42\ncontent: Map Berlin started on S1\ntitle: BF1942 Map Alert!")
	assert.Contains(t, buf.String(), "--- channel C1\n")
}
