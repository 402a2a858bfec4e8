// Package storage archives rendered newsletter bodies in S3-compatible
// object storage and hands out presigned links to them.
//
//	st, err := storage.New(cfg)
//	err = st.Put(ctx, "sends/42/content.html", "text/html; charset=utf-8", html)
//	link, err := st.URL(ctx, "sends/42/content.html", 24*time.Hour)
//
// Errors from the AWS SDK are normalised to the sentinels in this package;
// use errors.Is against them rather than errors.As against SDK types.
package storage
