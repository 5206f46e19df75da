// Package fusefs bridges a *volume.Volume to the host kernel's FUSE
// protocol via jacobsa/fuse. The volume it serves is always a single,
// flat directory: there is exactly one fuseops.RootInodeID, and every
// file entry hangs directly off it.
package fusefs

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

// regularMode is the permission bits reported for, and the only bits
// chmod accepts for, a file entry on a writable mount.
const regularMode = 0666

// FS adapts one *volume.Volume to fuseutil.FileSystem. It is the only
// place in this module that allocates FUSE inode numbers and handle
// IDs; the volume engine itself knows nothing about either.
type FS struct {
	fuseutil.NotImplementedFileSystem

	mu       sync.Mutex
	vol      *volume.Volume
	readOnly bool
	textMode bool

	inodeCnt fuseops.InodeID
	byInode  map[fuseops.InodeID]*volume.Entry
	byEntry  map[*volume.Entry]fuseops.InodeID

	// texts holds the decoded-form wrapper for each text-kind entry
	// while textMode is on; the wrapper's cache is shared by every open
	// handle on that entry and dropped when the last one is released.
	texts map[*volume.Entry]*volume.TextFile

	fileHandleCnt fuseops.HandleID
	files         map[fuseops.HandleID]fileIO

	dirHandleCnt fuseops.HandleID
	dirs         map[fuseops.HandleID]bool
}

// fileIO is the handle-level surface shared by volume.File and
// volume.TextFile.
type fileIO interface {
	Read(offset int64, data []byte) (int, error)
	Write(offset int64, data []byte) (int, error)
	Truncate(size int64) error
}

// New builds an FS around an already meta-read or mkfs'd volume. When
// textMode is on, text-kind entries are served in their decoded host
// form through the text codec instead of their raw block layout.
func New(vol *volume.Volume, readOnly, textMode bool) *FS {
	return &FS{
		vol:      vol,
		readOnly: readOnly,
		textMode: textMode,
		inodeCnt: fuseops.RootInodeID,
		byInode:  make(map[fuseops.InodeID]*volume.Entry),
		byEntry:  make(map[*volume.Entry]fuseops.InodeID),
		texts:    make(map[*volume.Entry]*volume.TextFile),
		files:    make(map[fuseops.HandleID]fileIO),
		dirs:     make(map[fuseops.HandleID]bool),
	}
}

// Mount starts serving fs at mountpoint and returns a join function
// that blocks until the mount is unmounted.
func Mount(ctx context.Context, mountpoint string, fs *FS) (join func(context.Context) error, _ error) {
	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "ucsdpsys",
		ReadOnly: fs.readOnly,
		Options: map[string]string{
			"allow_other": "",
		},
	})
	if err != nil {
		return nil, xerrors.Errorf("fuse.Mount: %w", err)
	}
	join = func(ctx context.Context) error {
		defer fuse.Unmount(mountpoint)
		return mfs.Join(ctx)
	}
	return join, nil
}

// Stats returns the volume's statfs snapshot, taken under the FS lock;
// it is how *FS serves internal/diskctl's stats request.
func (fs *FS) Stats() volume.Statfs {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.vol.Statfs()
}

// Crunch triggers a whole-volume gap compaction from internal/diskctl.
func (fs *FS) Crunch() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.vol.Crunch()
}

func (fs *FS) inodeForLocked(e *volume.Entry) fuseops.InodeID {
	if id, ok := fs.byEntry[e]; ok {
		return id
	}
	fs.inodeCnt++
	id := fs.inodeCnt
	fs.byEntry[e] = id
	fs.byInode[id] = e
	return id
}

func (fs *FS) forgetLocked(e *volume.Entry) {
	if id, ok := fs.byEntry[e]; ok {
		delete(fs.byEntry, e)
		delete(fs.byInode, id)
	}
	delete(fs.texts, e)
}

// fileForLocked picks the I/O wrapper for an entry: the plain block
// view, or the shared decoded-text view for text-kind entries when the
// mount runs in text mode.
func (fs *FS) fileForLocked(e *volume.Entry) fileIO {
	if fs.textMode && e.Kind == volume.Text {
		tf, ok := fs.texts[e]
		if !ok {
			tf = fs.vol.OpenTextFile(e)
			fs.texts[e] = tf
		}
		return tf
	}
	return fs.vol.OpenFile(e)
}

func (fs *FS) rootAttributes() fuseops.InodeAttributes {
	mode := os.FileMode(0755) | os.ModeDir
	if fs.readOnly {
		mode = os.FileMode(0555) | os.ModeDir
	}
	return fuseops.InodeAttributes{
		Nlink: 2,
		Mode:  mode,
		Atime: time.Now(),
		Mtime: time.Now(),
		Ctime: time.Now(),
	}
}

func (fs *FS) entryAttributes(e *volume.Entry) fuseops.InodeAttributes {
	mode := os.FileMode(regularMode)
	if fs.readOnly {
		mode = 0444
	}
	size := uint64(e.CurrentSize())
	if fs.textMode && e.Kind == volume.Text {
		// The mounted view of a text file is its decoded form, so its
		// reported size has to come from the decode cache.
		if n, err := fs.fileForLocked(e).(*volume.TextFile).CurrentSize(); err == nil {
			size = uint64(n)
		}
	}
	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  mode,
		Atime: e.When,
		Mtime: e.When,
		Ctime: e.When,
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	st := fs.vol.Statfs()
	op.BlockSize = st.BlockSize
	op.Blocks = st.Blocks
	op.BlocksFree = st.BlocksFree
	op.BlocksAvailable = st.BlocksFree
	op.Inodes = st.Files
	op.InodesFree = st.FilesFree
	op.IoSize = 512
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.vol.Find(op.Name)
	if e == nil {
		return syscall.ENOENT
	}
	op.Entry.Child = fs.inodeForLocked(e)
	op.Entry.Attributes = fs.entryAttributes(e)
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttributes()
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.byInode[op.Inode]
	if !ok {
		return syscall.ENOENT
	}
	op.Attributes = fs.entryAttributes(e)
	return nil
}

// SetInodeAttributes implements chmod, chown (as a no-op), truncate and
// utime_ns exactly per their individual contracts: chmod accepts only
// 0666, chown accepts only "no change", truncate negotiates a gap the
// same way Write does, utime_ns updates the in-memory timestamp (only
// its date survives the next meta_sync).
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttributes()
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.byInode[op.Inode]
	if !ok {
		return syscall.ENOENT
	}
	if op.Mode != nil && op.Mode.Perm() != regularMode {
		return syscall.EINVAL
	}
	if fs.readOnly && (op.Size != nil || op.Mode != nil) {
		return syscall.EROFS
	}
	if op.Size != nil {
		if err := fs.fileForLocked(e).Truncate(int64(*op.Size)); err != nil {
			return err
		}
	}
	if op.Mtime != nil {
		e.When = *op.Mtime
		if err := fs.vol.MetaSync(); err != nil {
			return err
		}
	}
	op.Attributes = fs.entryAttributes(e)
	return nil
}

// MkNode creates a new, empty file entry. p-System has no other node
// kinds (no device nodes, no fifos), so this is the only way new files
// come into existence besides CreateFile.
func (fs *FS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	child, err := fs.createLocked(op.Parent, op.Name)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	op.Entry.Child = fs.inodeForLocked(child)
	op.Entry.Attributes = fs.entryAttributes(child)
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	child, err := fs.createLocked(op.Parent, op.Name)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	op.Entry.Child = fs.inodeForLocked(child)
	op.Entry.Attributes = fs.entryAttributes(child)
	fs.fileHandleCnt++
	op.Handle = fs.fileHandleCnt
	fs.files[op.Handle] = fs.fileForLocked(child)
	return nil
}

func (fs *FS) createLocked(parent fuseops.InodeID, name string) (*volume.Entry, error) {
	if parent != fuseops.RootInodeID {
		return nil, syscall.ENOTDIR
	}
	if fs.readOnly {
		return nil, syscall.EROFS
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.vol.Find(name) != nil {
		return nil, syscall.EEXIST
	}
	if !fs.vol.HasRoomForNewFile() {
		return nil, syscall.ENOSPC
	}
	kind := volume.DFKindFromExtension(name)
	e := volume.NewEntry(name, kind, fs.vol.FirstEmptyBlock(), 0)
	if err := fs.vol.AddNewFile(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.vol.Find(op.Name)
	if e == nil {
		return syscall.ENOENT
	}
	if err := fs.vol.OpenFile(e).Unlink(); err != nil {
		return err
	}
	fs.forgetLocked(e)
	return nil
}

func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	if op.OldParent != fuseops.RootInodeID || op.NewParent != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.vol.Find(op.OldName)
	if e == nil {
		return syscall.ENOENT
	}
	displaced := fs.vol.Find(op.NewName)
	if err := fs.vol.OpenFile(e).Rename(op.NewName); err != nil {
		return err
	}
	if displaced != nil && displaced != e {
		fs.forgetLocked(displaced)
	}
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.dirHandleCnt++
	op.Handle = fs.dirHandleCnt
	fs.dirs[op.Handle] = true
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	fs.mu.Lock()
	var entries []fuseutil.Dirent
	for _, e := range fs.vol.Files {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  fs.inodeForLocked(e),
			Name:   e.Name,
			Type:   fuseutil.DT_File,
		})
	}
	fs.mu.Unlock()

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return syscall.EINVAL
	}
	for _, d := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirs, op.Handle)
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.byInode[op.Inode]
	if !ok {
		return syscall.ENOENT
	}
	fs.fileHandleCnt++
	op.Handle = fs.fileHandleCnt
	fs.files[op.Handle] = fs.fileForLocked(e)
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	f, ok := fs.files[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	n, err := f.Read(op.Offset, op.Dst)
	op.BytesRead = n
	return err
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	fs.mu.Lock()
	f, ok := fs.files[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	_, err := f.Write(op.Offset, op.Data)
	return err
}

// FlushFile and SyncFile are no-ops: every Write and Truncate already
// calls meta_sync synchronously, so there is no write-back cache to
// flush and no background writer to wait for.
func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error { return nil }
func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error { return nil }

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := fs.files[op.Handle]
	delete(fs.files, op.Handle)
	tf, ok := f.(*volume.TextFile)
	if !ok {
		return nil
	}
	// Drop the decode cache once the last handle on the entry goes
	// away; the next open re-reads the medium.
	for _, other := range fs.files {
		if other == f {
			return nil
		}
	}
	tf.Release()
	delete(fs.texts, tf.Entry())
	return nil
}

// The following are named in the mount bridge contract but have no
// p-System equivalent: the volume is single-level (no nested
// directories) and file entries carry no symlink/hardlink kind or
// extended attributes.
func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return syscall.ENOSYS
}
func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return syscall.ENOSYS
}
func (fs *FS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	return syscall.ENOSYS
}
func (fs *FS) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	return syscall.ENOSYS
}
func (fs *FS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	return syscall.ENOSYS
}
func (fs *FS) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	return syscall.ENOSYS
}
func (fs *FS) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return syscall.ENOSYS
}
func (fs *FS) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	return syscall.ENODATA
}
func (fs *FS) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	return nil
}

func (fs *FS) Destroy() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_ = fs.vol.MetaSync()
}
