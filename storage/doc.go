// Package storage transfers objects to and from a bunny.net Edge Storage
// zone without holding them in memory.
//
// # Zones
//
// A [Zone] is addressed by its primary [Region] and authenticated with the
// zone password:
//
//	z, err := storage.New(os.Getenv("BUNNY_STORAGE_PASSWORD"), storage.NewYork, "my-zone")
//
// # Uploading
//
// [Zone.Upload] streams any [io.Reader]. A known size is sent as
// Content-Length, -1 uses chunked transfer encoding:
//
//	stats, err := z.Upload(ctx, "images/logo.png", f, fi.Size(),
//		storage.WithContentType("image/png"),
//	)
//
// # Downloading
//
// [Zone.Download] returns an [Object] as soon as the headers arrived. Read
// it like any [io.Reader], or in fixed-size chunks:
//
//	obj, err := z.Download(ctx, "images/logo.png")
//	for chunk, err := range obj.Chunks(32 << 10) {
//		...
//	}
//
// [Zone.DownloadFile] writes into a temporary file and renames it into
// place only once the object arrived completely.
//
// # Listing
//
// [Zone.List] yields the entries of one directory, [Zone.Walk] those of a
// whole tree. Both are lazy and single-pass.
//
// # Async transfers
//
// [Zone.UploadAsync] and [Zone.DownloadAsync] return a [Result]. Use
// [WithBatch] to bound concurrency and [WithQueue] to add transfers to the
// same batch:
//
//	r, err := z.DownloadAsync(ctx, "a.bin", "/tmp/a.bin", storage.WithBatch(4))
//	_, err = z.DownloadAsync(ctx, "b.bin", "/tmp/b.bin", storage.WithQueue(r.Queue()))
//	err = r.Wait()
package storage
