package msg

// Channel wildcards that match any channel.
const (
	ChannelWildcardStar = "*"
	ChannelWildcardAll  = "all"
)

func isChannelWildcard(c string) bool {
	return c == ChannelWildcardStar || c == ChannelWildcardAll
}

// RouteTo decides whether a message with this audience is eligible for a
// consumer configured with the given channel. The same predicate backs
// both notify fan-out and the audience.channels.routeTo query filter.
//
// Rules:
//   - consumer without a channel: eligible only when the message has no
//     include list (broadcast messages);
//   - consumer with a channel: exclude wins (any match blocks), then a
//     non-empty include list must contain the channel;
//   - "*" and "all" always match, on either side.
func (a *Audience) RouteTo(channel string) bool {
	var include, exclude []string
	if a != nil && a.Channels != nil {
		include = a.Channels.Include
		exclude = a.Channels.Exclude
	}

	if channel == "" {
		return len(include) == 0
	}

	for _, e := range exclude {
		if e == channel || isChannelWildcard(e) || isChannelWildcard(channel) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, i := range include {
		if i == channel || isChannelWildcard(i) || isChannelWildcard(channel) {
			return true
		}
	}
	return false
}

// RouteToChannel is RouteTo with nil-audience handling for a whole message.
func RouteToChannel(m *Message, channel string) bool {
	if m == nil {
		return false
	}
	return m.Audience.RouteTo(channel)
}
