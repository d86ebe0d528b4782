// Package onboarding implements the client side of the group join
// protocol: a thin HTTP client for the join and membership endpoints and
// a Joiner that performs one join write and then polls until the
// membership is visible in the CMS search index or a time budget expires.
package onboarding
