// Package newsletter holds the domain model shared by the delivery engine:
// sends, recipient tickets, subscribers, articles and engagement events,
// their status enums and the email normalisation rules every component
// applies before touching the recipient queue.
package newsletter
