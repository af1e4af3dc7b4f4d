/*Package interval implements interval-union operations in a manner optimized
  for sets of genomic coordinates represented by BED files, such as peak
  regions and background-sampling regions.
  (Note the 'union'.  Overlapping intervals are merged, not tracked
  separately.)
  It assumes every position fits in a PosType, which is currently defined as
  int32.
*/
package interval
