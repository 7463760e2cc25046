package mtproto

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/igolaizola/aurum/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ts      = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	channel = &tg.Channel{ID: 100, Title: "Gold Hunter Paul", Username: "goldhunterpaulnow"}
)

func message(id int, text string, date time.Time, from tg.PeerClass) *tg.Message {
	m := &tg.Message{
		ID:      id,
		Message: text,
		Date:    int(date.Unix()),
		PeerID:  &tg.PeerChannel{ChannelID: channel.ID},
	}
	if from != nil {
		m.SetFromID(from)
	}
	return m
}

func TestSender(t *testing.T) {
	users := map[int64]*tg.User{
		1: {ID: 1, FirstName: "Paul", LastName: "Now"},
		2: {ID: 2, Username: "paul"},
		3: {ID: 3},
	}
	channels := map[int64]*tg.Channel{
		200: {ID: 200, Title: "Gold Desk"},
	}
	tests := []struct {
		name string
		from tg.PeerClass
		want string
	}{
		{"channel post", nil, "Gold Hunter Paul"},
		{"person", &tg.PeerUser{UserID: 1}, "Paul Now"},
		{"handle", &tg.PeerUser{UserID: 2}, "@paul"},
		{"user without names", &tg.PeerUser{UserID: 3}, relay.DefaultSender},
		{"unknown user", &tg.PeerUser{UserID: 4}, relay.DefaultSender},
		{"signed by channel", &tg.PeerChannel{ChannelID: 200}, "Gold Desk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sender(message(1, "hi", ts, tt.from), channel, users, channels)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMessage(t *testing.T) {
	got := toMessage(message(42, "BUY GOLD 1950", ts, nil), channel, nil, nil)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "Gold Hunter Paul", got.Channel)
	assert.Equal(t, "Gold Hunter Paul", got.Sender)
	assert.Equal(t, "BUY GOLD 1950", got.Text)
	assert.True(t, got.Time.Equal(ts))
	assert.False(t, got.Backfill)
}

func TestHistory(t *testing.T) {
	res := &tg.MessagesChannelMessages{
		Messages: []tg.MessageClass{
			message(3, "third", ts.Add(2*time.Minute), &tg.PeerUser{UserID: 1}),
			message(2, "", ts.Add(time.Minute), nil),
			&tg.MessageService{ID: 4},
			message(1, "first", ts, nil),
		},
		Users: []tg.UserClass{&tg.User{ID: 1, FirstName: "Paul"}},
		Chats: []tg.ChatClass{channel},
	}
	msgs := history(res, channel)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "third", msgs[1].Text)
	assert.Equal(t, "Paul", msgs[1].Sender)
	for _, m := range msgs {
		assert.True(t, m.Backfill)
	}

	assert.Empty(t, history(&tg.MessagesMessagesNotModified{}, channel))
}

func TestFindChannel(t *testing.T) {
	res := &tg.ContactsResolvedPeer{
		Peer:  &tg.PeerChannel{ChannelID: 100},
		Chats: []tg.ChatClass{&tg.Chat{ID: 100}, channel},
	}
	assert.Same(t, channel, findChannel(res))

	res = &tg.ContactsResolvedPeer{Peer: &tg.PeerUser{UserID: 100}}
	assert.Nil(t, findChannel(res))
}

func TestFromPeer(t *testing.T) {
	id, err := fromPeer(&tg.PeerChannel{ChannelID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = fromPeer(nil)
	assert.Error(t, err)
}
