package btree

import "github.com/ticketstore/storageengine/internal/bufferpool"

// The four functions below implement the borrow/merge rules a node's parent
// applies once a child underflows during Remove: borrow from the left
// sibling, borrow from the right sibling, merge into the left sibling, or
// merge the right sibling into this node, tried in that order. Leaf and
// internal pages move entries differently — a leaf entry carries a real key,
// while an internal entry's key is a separator that must rotate through the
// parent — so each case gets its own pair of helpers.

func borrowLeafFromLeft(left, cur, parent *bufferpool.WriteGuard, curIdxInParent int) {
	ld := left.MutableData()
	cd := cur.MutableData()
	lsize := readSize(ld)
	csize := readSize(cd)

	k, v := getLeafEntry(ld, lsize-1)
	for i := csize; i > 0; i-- {
		kk, vv := getLeafEntry(cd, i-1)
		putLeafEntry(cd, i, kk, vv)
	}
	putLeafEntry(cd, 0, k, v)
	writeSize(cd, csize+1)
	writeSize(ld, lsize-1)

	setInternalKey(parent.MutableData(), curIdxInParent, k)
}

func borrowLeafFromRight(cur, right, parent *bufferpool.WriteGuard, rightIdxInParent int) {
	cd := cur.MutableData()
	rd := right.MutableData()
	csize := readSize(cd)
	rsize := readSize(rd)

	k, v := getLeafEntry(rd, 0)
	putLeafEntry(cd, csize, k, v)
	writeSize(cd, csize+1)

	for i := 0; i < rsize-1; i++ {
		kk, vv := getLeafEntry(rd, i+1)
		putLeafEntry(rd, i, kk, vv)
	}
	writeSize(rd, rsize-1)

	newRightFirst := getLeafKey(rd, 0)
	setInternalKey(parent.MutableData(), rightIdxInParent, newRightFirst)
}

// mergeLeafIntoLeft appends src's entries onto dst and relinks dst's sibling
// pointer past src. dst survives; the caller deletes src's page.
func mergeLeafIntoLeft(dst, src *bufferpool.WriteGuard) {
	dd := dst.MutableData()
	sd := src.Data()
	dsize := readSize(dd)
	ssize := readSize(sd)
	for i := 0; i < ssize; i++ {
		k, v := getLeafEntry(sd, i)
		putLeafEntry(dd, dsize+i, k, v)
	}
	writeSize(dd, dsize+ssize)
	writeNextPageID(dd, readNextPageID(sd))
}

func borrowInternalFromLeft(left, cur, parent *bufferpool.WriteGuard, curIdxInParent int) {
	ld := left.MutableData()
	cd := cur.MutableData()
	lsize := readSize(ld)
	csize := readSize(cd)

	lastKey, lastChild := getInternalEntry(ld, lsize-1)
	parentSep, _ := getInternalEntry(parent.Data(), curIdxInParent)

	for i := csize; i > 0; i-- {
		kk, cc := getInternalEntry(cd, i-1)
		putInternalEntry(cd, i, kk, cc)
	}
	setInternalKey(cd, 1, parentSep)
	putInternalEntry(cd, 0, 0, lastChild)
	writeSize(cd, csize+1)
	writeSize(ld, lsize-1)

	setInternalKey(parent.MutableData(), curIdxInParent, lastKey)
}

func borrowInternalFromRight(cur, right, parent *bufferpool.WriteGuard, rightIdxInParent int) {
	cd := cur.MutableData()
	rd := right.MutableData()
	csize := readSize(cd)
	rsize := readSize(rd)

	parentSep, _ := getInternalEntry(parent.Data(), rightIdxInParent)
	_, rightSentinelChild := getInternalEntry(rd, 0)
	newSep, _ := getInternalEntry(rd, 1)

	putInternalEntry(cd, csize, parentSep, rightSentinelChild)
	writeSize(cd, csize+1)

	for i := 0; i < rsize-1; i++ {
		kk, cc := getInternalEntry(rd, i+1)
		putInternalEntry(rd, i, kk, cc)
	}
	writeSize(rd, rsize-1)

	setInternalKey(parent.MutableData(), rightIdxInParent, newSep)
}

// mergeInternalIntoLeft appends src's entries onto dst, rotating the parent
// separator at sepIdx down to become the key of src's former sentinel child.
// dst survives; the caller removes the parent's entry at sepIdx and deletes
// src's page.
func mergeInternalIntoLeft(dst, src, parent *bufferpool.WriteGuard, sepIdx int) {
	dd := dst.MutableData()
	sd := src.Data()
	dsize := readSize(dd)
	ssize := readSize(sd)

	sepKey, _ := getInternalEntry(parent.Data(), sepIdx)
	_, srcSentinelChild := getInternalEntry(sd, 0)

	putInternalEntry(dd, dsize, sepKey, srcSentinelChild)
	for i := 1; i < ssize; i++ {
		k, c := getInternalEntry(sd, i)
		putInternalEntry(dd, dsize+i, k, c)
	}
	writeSize(dd, dsize+ssize)
}
