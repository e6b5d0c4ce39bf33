// Package relay holds the policy core of the guild relay: the sanitizer,
// the loop-suppression guard, the per-sender rate limiter and the two
// pipelines (game to group, group to game) that tie them together.
//
// Nothing here touches the network. Adapters feed events in through
// Router.HandleGameChat and Router.HandleGroupMessage and receive the
// outbound lines through the GameSender and GroupSender interfaces.
package relay
